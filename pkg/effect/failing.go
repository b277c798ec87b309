package effect

import "context"

// Reporter receives failures from test stand-ins. *testing.T satisfies it.
type Reporter interface {
	Errorf(format string, args ...any)
}

// Failing returns an effect that reports a failure naming the endpoint when executed.
func Failing[A any](r Reporter, name string) Effect[A] {
	return Effect[A]{run: func(context.Context, Send[A]) {
		r.Errorf("%s: unimplemented effect was executed", name)
	}}
}

// Unimplemented reports that an endpoint without an override was called and
// returns zero. Mock clients use it for every unset field.
func Unimplemented[T any](r Reporter, name string) T {
	var zero T
	if r != nil {
		r.Errorf("%s: unimplemented", name)
	}
	return zero
}
