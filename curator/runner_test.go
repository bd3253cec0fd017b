package curator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type stepRunner struct {
	name  string
	steps *[]string
}

func (r stepRunner) Begin(Client) { *r.steps = append(*r.steps, r.name+":begin") }
func (r stepRunner) Retry()       { *r.steps = append(*r.steps, r.name+":retry") }
func (r stepRunner) End()         { *r.steps = append(*r.steps, r.name+":end") }

func TestParallelRunner(t *testing.T) {
	t.Run("lifecycle order", func(t *testing.T) {
		var steps []string
		r := NewParallelRunner(
			stepRunner{name: "a", steps: &steps},
			nil,
			stepRunner{name: "b", steps: &steps},
		)

		r.Begin(nil)
		r.Retry()
		r.End()

		assert.Equal(t, []string{
			"a:begin", "b:begin",
			"a:retry", "b:retry",
			"b:end", "a:end",
		}, steps)
	})

	t.Run("curators keep their own sessions", func(t *testing.T) {
		var steps []string
		r := NewParallelRunner(
			New(func(sess *Session) {
				steps = append(steps, "init01")
				sess.AddRetry(func(sess *Session) {
					steps = append(steps, "retry01")
				})
			}),
			New(func(sess *Session) {
				steps = append(steps, "init02")
			}),
		)

		r.Begin(nil)
		r.Retry()
		r.Retry()
		assert.Equal(t, []string{"init01", "init02", "retry01"}, steps)

		r.End()
		r.Begin(nil)
		assert.Equal(t, []string{"init01", "init02", "retry01", "init01", "init02"}, steps)
	})

	t.Run("empty", func(t *testing.T) {
		r := NewParallelRunner()
		r.Begin(nil)
		r.Retry()
		r.End()
	})
}
