package safety

// Validation is the combined judgement of every principle.
type Validation struct {
	Score      float64           `json:"score"`
	IsSafe     bool              `json:"is_safe"`
	Results    []PrincipleResult `json:"results"`
	Violations []PrincipleResult `json:"violations,omitempty"`
}

// Validator scores text against weighted constitutional principles.
type Validator struct {
	principles []Principle
	threshold  float64
}

// NewValidator uses DefaultPrinciples when principles is empty.
func NewValidator(threshold float64, principles ...Principle) *Validator {
	if len(principles) == 0 {
		principles = DefaultPrinciples()
	}
	return &Validator{principles: principles, threshold: threshold}
}

// Validate evaluates every principle. The score is the weighted mean of pass
// scores, where a violated principle passes with 1-confidence. Text is safe
// only with zero violations and a score at or above the threshold.
func (v *Validator) Validate(text string, ec EvalContext) Validation {
	val := Validation{Results: make([]PrincipleResult, 0, len(v.principles))}

	var weighted, total float64
	for _, p := range v.principles {
		res := p.Evaluate(text, ec)
		pass := 1.0
		if res.Violated {
			pass = 1 - clamp01(res.Confidence)
			val.Violations = append(val.Violations, res)
		}
		weighted += p.Weight() * pass
		total += p.Weight()
		val.Results = append(val.Results, res)
	}
	if total > 0 {
		val.Score = weighted / total
	} else {
		val.Score = 1
	}
	val.IsSafe = len(val.Violations) == 0 && val.Score >= v.threshold
	return val
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
