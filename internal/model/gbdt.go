package model

import (
	"fmt"
	"math"
)

// Params 梯度提升参数，默认值与 XGBoost 一致。
type Params struct {
	NEstimators    int     `yaml:"nEstimators" default:"100" validate:"gte=1"`
	MaxDepth       int     `yaml:"maxDepth" default:"6" validate:"gte=0"`
	LearningRate   float64 `yaml:"learningRate" default:"0.3" validate:"gt=0,lte=1"`
	Lambda         float64 `yaml:"lambda" default:"1" validate:"gte=0"`
	Gamma          float64 `yaml:"gamma" default:"0" validate:"gte=0"`
	MinChildWeight float64 `yaml:"minChildWeight" default:"1" validate:"gte=0"`
	BaseScore      float64 `yaml:"baseScore" default:"0.5" validate:"gt=0,lt=1"`
}

func DefaultParams() Params {
	return Params{
		NEstimators:    100,
		MaxDepth:       6,
		LearningRate:   0.3,
		Lambda:         1,
		Gamma:          0,
		MinChildWeight: 1,
		BaseScore:      0.5,
	}
}

func (p Params) validate() error {
	switch {
	case p.NEstimators < 1:
		return fmt.Errorf("model: nEstimators %d < 1", p.NEstimators)
	case p.MaxDepth < 0:
		return fmt.Errorf("model: maxDepth %d < 0", p.MaxDepth)
	case p.LearningRate <= 0:
		return fmt.Errorf("model: learningRate %v <= 0", p.LearningRate)
	case p.Lambda < 0 || p.Gamma < 0 || p.MinChildWeight < 0:
		return fmt.Errorf("model: lambda, gamma and minChildWeight must be >= 0")
	case p.BaseScore <= 0 || p.BaseScore >= 1:
		return fmt.Errorf("model: baseScore %v outside (0,1)", p.BaseScore)
	}
	return nil
}

// GradientBoosting is a second-order boosted ensemble of regression trees
// trained on logistic loss.
type GradientBoosting struct {
	p     Params
	base  float64
	trees []*tree
	dims  int
}

func NewGradientBoosting(p Params) *GradientBoosting {
	return &GradientBoosting{p: p}
}

// NewFactory returns a Factory producing fresh models with p.
func NewFactory(p Params) Factory {
	return func() Classifier { return NewGradientBoosting(p) }
}

func (m *GradientBoosting) Params() Params { return m.p }

// Trees reports the number of fitted trees.
func (m *GradientBoosting) Trees() int { return len(m.trees) }

// Fit trains from scratch, discarding any previous fit.
func (m *GradientBoosting) Fit(x [][]float64, y []int) error {
	if err := m.p.validate(); err != nil {
		return err
	}
	dims, err := checkXY(x, y)
	if err != nil {
		return err
	}
	m.trees = m.trees[:0]
	m.dims = dims
	m.base = math.Log(m.p.BaseScore / (1 - m.p.BaseScore))

	n := len(x)
	margin := make([]float64, n)
	for i := range margin {
		margin[i] = m.base
	}
	g := make([]float64, n)
	h := make([]float64, n)
	b := newTreeBuilder(m.p, x)
	for round := 0; round < m.p.NEstimators; round++ {
		for i := range margin {
			p := sigmoid(margin[i])
			g[i] = p - float64(y[i])
			h[i] = math.Max(p*(1-p), 1e-16)
		}
		t, delta := b.build(g, h)
		m.trees = append(m.trees, t)
		for i := range margin {
			margin[i] += delta[i]
		}
	}
	return nil
}

// PredictProba returns P(label=1) per row.
func (m *GradientBoosting) PredictProba(x [][]float64) ([]float64, error) {
	if len(m.trees) == 0 {
		return nil, ErrNotFitted
	}
	out := make([]float64, len(x))
	for i, row := range x {
		if len(row) != m.dims {
			return nil, fmt.Errorf("%w: row %d has %d values, want %d", ErrShape, i, len(row), m.dims)
		}
		z := m.base
		for _, t := range m.trees {
			z += t.predict(row)
		}
		out[i] = sigmoid(z)
	}
	return out, nil
}

// Predict thresholds PredictProba at 0.5.
func (m *GradientBoosting) Predict(x [][]float64) ([]int, error) {
	proba, err := m.PredictProba(x)
	if err != nil {
		return nil, err
	}
	out := make([]int, len(proba))
	for i, p := range proba {
		if p >= 0.5 {
			out[i] = 1
		}
	}
	return out, nil
}

// Score is the accuracy on (x, y).
func (m *GradientBoosting) Score(x [][]float64, y []int) (float64, error) {
	return Score(m, x, y)
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}
