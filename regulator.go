package qprep

/*
Regulator is something that watches pool metrics and can hold back work.
The pool feeds every registered regulator on its metrics tick and consults
Limit before accepting a job; the loader uses the circuit breaker and the
rate limiter the same way in front of the engine.
*/
type Regulator interface {
	// Observe receives the latest metrics snapshot.
	Observe(metrics *Metrics)

	// Limit reports whether the regulated action should be held back.
	Limit() bool

	// Renormalize gives the regulator a chance to return to normal
	// operation after a period of limiting.
	Renormalize()
}
