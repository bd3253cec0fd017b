package curator

type parallelRunner struct {
	runners []SessionRunner
}

// NewParallelRunner drives every runner with the same session lifecycle.
// Begin and Retry follow the argument order, End runs in reverse so that a
// recipe started on top of another one is torn down first. Nil runners are
// skipped.
func NewParallelRunner(runners ...SessionRunner) SessionRunner {
	list := make([]SessionRunner, 0, len(runners))
	for _, r := range runners {
		if r != nil {
			list = append(list, r)
		}
	}
	return &parallelRunner{runners: list}
}

func (r *parallelRunner) Begin(client Client) {
	for _, runner := range r.runners {
		runner.Begin(client)
	}
}

func (r *parallelRunner) Retry() {
	for _, runner := range r.runners {
		runner.Retry()
	}
}

func (r *parallelRunner) End() {
	for i := len(r.runners) - 1; i >= 0; i-- {
		r.runners[i].End()
	}
}
