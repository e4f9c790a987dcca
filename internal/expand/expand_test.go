package expand

import (
	"context"
	"regexp"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func staticLookup(env map[string]string) Lookup {
	return func(_ context.Context, name string) (string, bool) {
		v, ok := env[name]
		return v, ok
	}
}

func TestExpand_TimestampSeconds(t *testing.T) {
	e := New(nil)
	out := e.Expand(context.Background(), "ts=[timestmp.10]")
	assert.Regexp(t, regexp.MustCompile(`^ts=\d{10}$`), out)
}

func TestExpand_TimestampMillis(t *testing.T) {
	e := New(nil)
	out := e.Expand(context.Background(), "ts=[timestmp.13]")
	assert.Regexp(t, regexp.MustCompile(`^ts=\d{13}$`), out)
}

func TestExpand_BareTimestampIsMillis(t *testing.T) {
	e := New(nil)
	out := e.Expand(context.Background(), "[timestmp]")
	assert.Regexp(t, regexp.MustCompile(`^\d{13}$`), out)
}

func TestExpand_TimestampsShareOneNow(t *testing.T) {
	e := New(nil)
	out := e.Expand(context.Background(), "[timestmp.10]|[timestmp.13]")

	m := regexp.MustCompile(`^(\d{10})\|(\d{13})$`).FindStringSubmatch(out)
	require.NotNil(t, m)

	t10, err := strconv.ParseInt(m[1], 10, 64)
	require.NoError(t, err)
	t13, err := strconv.ParseInt(m[2], 10, 64)
	require.NoError(t, err)

	// Same captured instant, allow 1s truncation boundary
	assert.Contains(t, []int64{t10, t10 + 1}, t13/1000)
}

func TestExpand_RandomRange(t *testing.T) {
	e := New(nil)
	for i := 0; i < 50; i++ {
		out := e.Expand(context.Background(), "[random.3-7]")
		n, err := strconv.Atoi(out)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, n, 3)
		assert.LessOrEqual(t, n, 7)
	}
}

func TestExpand_RandomSingleValue(t *testing.T) {
	e := New(nil)
	assert.Equal(t, "5", e.Expand(context.Background(), "[random.5-5]"))
}

func TestExpand_RandomInvertedRangeLeftVerbatim(t *testing.T) {
	e := New(nil)
	assert.Equal(t, "[random.9-3]", e.Expand(context.Background(), "[random.9-3]"))
}

func TestExpand_Getenv(t *testing.T) {
	e := New(staticLookup(map[string]string{"NAME": "世界"}))
	out := e.Expand(context.Background(), `{"n":"[getenv.NAME]"}`)
	assert.Equal(t, `{"n":"世界"}`, out)
}

func TestExpand_GetenvMissingLeftVerbatim(t *testing.T) {
	e := New(staticLookup(nil))
	out := e.Expand(context.Background(), "[getenv.MISSING]")
	assert.Equal(t, "[getenv.MISSING]", out)
}

func TestExpand_PlainStringUntouched(t *testing.T) {
	e := New(nil)
	assert.Equal(t, "no tokens here", e.Expand(context.Background(), "no tokens here"))
}

func TestExpand_CaseSensitiveTokens(t *testing.T) {
	e := New(staticLookup(map[string]string{"NAME": "x"}))
	assert.Equal(t, "[TIMESTMP.10]", e.Expand(context.Background(), "[TIMESTMP.10]"))
	assert.Equal(t, "[GETENV.NAME]", e.Expand(context.Background(), "[GETENV.NAME]"))
}

func TestExpandMap(t *testing.T) {
	e := New(staticLookup(map[string]string{"TOKEN": "abc"}))
	in := map[string]string{
		"Authorization": "Bearer [getenv.TOKEN]",
		"X-Static":      "1",
	}
	out := e.ExpandMap(context.Background(), in)
	assert.Equal(t, "Bearer abc", out["Authorization"])
	assert.Equal(t, "1", out["X-Static"])
	// Input untouched
	assert.Equal(t, "Bearer [getenv.TOKEN]", in["Authorization"])
}
