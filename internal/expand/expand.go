// Package expand implements the token substitution language used in probe
// URLs, headers and payloads: [timestmp.10], [timestmp.13], [timestmp],
// [random.A-B] and [getenv.NAME].
package expand

import (
	"context"
	"math/rand/v2"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	timestampRe = regexp.MustCompile(`\[timestmp(?:\.(10|13))?\]`)
	randomRe    = regexp.MustCompile(`\[random\.(-?\d+)-(-?\d+)\]`)
	getenvRe    = regexp.MustCompile(`\[getenv\.([A-Za-z_][A-Za-z0-9_]*)\]`)
)

// Lookup resolves a [getenv.NAME] token. ok=false leaves the token verbatim.
type Lookup func(ctx context.Context, name string) (value string, ok bool)

// Expander substitutes tokens in one pass. Every timestamp token within a
// single Expand call shares one captured "now".
type Expander struct {
	lookup Lookup
}

// New creates an Expander with the given env lookup
func New(lookup Lookup) *Expander {
	return &Expander{lookup: lookup}
}

// Expand performs one substitution pass over s
func (e *Expander) Expand(ctx context.Context, s string) string {
	if !strings.Contains(s, "[") {
		return s
	}

	now := time.Now()

	s = timestampRe.ReplaceAllStringFunc(s, func(tok string) string {
		m := timestampRe.FindStringSubmatch(tok)
		if m[1] == "10" {
			return strconv.FormatInt(now.Unix(), 10)
		}
		// Bare [timestmp] aliases the millisecond form
		return strconv.FormatInt(now.UnixMilli(), 10)
	})

	s = randomRe.ReplaceAllStringFunc(s, func(tok string) string {
		m := randomRe.FindStringSubmatch(tok)
		lo, err1 := strconv.ParseInt(m[1], 10, 64)
		hi, err2 := strconv.ParseInt(m[2], 10, 64)
		if err1 != nil || err2 != nil || lo > hi {
			return tok
		}
		return strconv.FormatInt(lo+rand.Int64N(hi-lo+1), 10)
	})

	if e.lookup != nil {
		s = getenvRe.ReplaceAllStringFunc(s, func(tok string) string {
			m := getenvRe.FindStringSubmatch(tok)
			if val, ok := e.lookup(ctx, m[1]); ok {
				return val
			}
			return tok
		})
	}

	return s
}

// ExpandMap expands every value of m in a single pass each, returning a new map
func (e *Expander) ExpandMap(ctx context.Context, m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = e.Expand(ctx, v)
	}
	return out
}
