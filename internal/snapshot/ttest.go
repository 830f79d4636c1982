package snapshot

import "math"

// computeSkillPValue runs a one-sided t-test of H0: mean(values) <= 0
// against H1: mean(values) > 0, returning the upper-tail p-value. Callers
// are responsible for the MinEpisodes gate and for winsorizing values
// beforehand; this returns nil only when fewer than two observations are
// given (a t-test needs at least one degree of freedom).
func computeSkillPValue(values []float64) *float64 {
	n := len(values)
	if n < 2 {
		return nil
	}

	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(n)

	var sumSq float64
	for _, v := range values {
		d := v - mean
		sumSq += d * d
	}
	variance := sumSq / float64(n-1)
	if variance == 0 {
		p := 1.0
		if mean > 0 {
			p = 0.0
		}
		return &p
	}

	stderr := math.Sqrt(variance / float64(n))
	t := mean / stderr
	p := studentTUpperTail(t, float64(n-1))
	return &p
}

// studentTUpperTail returns P(T > t) for a Student's t distribution with
// df degrees of freedom, via the regularized incomplete beta function
// (no statistics package in the corpus imports a t-distribution, so this
// is the standard closed-form reduction over math.Lgamma).
func studentTUpperTail(t, df float64) float64 {
	x := df / (df + t*t)
	ib := regularizedIncompleteBeta(df/2, 0.5, x)
	if t > 0 {
		return 0.5 * ib
	}
	return 1 - 0.5*ib
}

// regularizedIncompleteBeta computes I_x(a, b) via the continued-fraction
// expansion (Numerical Recipes' betacf), using math.Lgamma for the
// log-beta normalization.
func regularizedIncompleteBeta(a, b, x float64) float64 {
	if x <= 0 {
		return 0
	}
	if x >= 1 {
		return 1
	}

	la, _ := math.Lgamma(a)
	lb, _ := math.Lgamma(b)
	lab, _ := math.Lgamma(a + b)
	logBt := lab - la - lb + a*math.Log(x) + b*math.Log(1-x)
	bt := math.Exp(logBt)

	if x < (a+1)/(a+b+2) {
		return bt * betaContinuedFraction(a, b, x) / a
	}
	return 1 - bt*betaContinuedFraction(b, a, 1-x)/b
}

func betaContinuedFraction(a, b, x float64) float64 {
	const maxIterations = 200
	const epsilon = 3e-7
	const minFloat = 1e-30

	qab := a + b
	qap := a + 1
	qam := a - 1

	c := 1.0
	d := 1 - qab*x/qap
	if math.Abs(d) < minFloat {
		d = minFloat
	}
	d = 1 / d
	h := d

	for m := 1; m <= maxIterations; m++ {
		m2 := float64(2 * m)

		aa := float64(m) * (b - float64(m)) * x / ((qam + m2) * (a + m2))
		d = 1 + aa*d
		if math.Abs(d) < minFloat {
			d = minFloat
		}
		c = 1 + aa/c
		if math.Abs(c) < minFloat {
			c = minFloat
		}
		d = 1 / d
		h *= d * c

		aa = -(a + float64(m)) * (qab + float64(m)) * x / ((a + m2) * (qap + m2))
		d = 1 + aa*d
		if math.Abs(d) < minFloat {
			d = minFloat
		}
		c = 1 + aa/c
		if math.Abs(c) < minFloat {
			c = minFloat
		}
		d = 1 / d
		del := d * c
		h *= del

		if math.Abs(del-1) < epsilon {
			break
		}
	}
	return h
}
