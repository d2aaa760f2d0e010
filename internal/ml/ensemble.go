package ml

import (
	"context"
	"fmt"

	"github.com/cockroachdb/errors"
	"gonum.org/v1/gonum/mat"
)

// Member is one (classifier, scaler, kind) triple of an ensemble.
type Member struct {
	Name       string
	Classifier Classifier
	Scaler     Scaler
	Kind       Kind
}

// Ensemble is an ordered, immutable list of members plus the number of passing
// votes needed to accept a request.
//
// Member order is part of the configuration: voting stops at the first point
// where PassScore passes have been collected, so members late in the list may
// never run for a given request.
type Ensemble struct {
	members   []Member
	passScore int
	nFeatures int
}

// Decision is the fused outcome for one request.
type Decision struct {
	// Label is Pass iff Score >= the ensemble's pass score.
	Label Vote
	// Score counts the Pass votes collected before voting stopped.
	Score int
	// Flags holds one vote per evaluated member, in member order.
	Flags []Vote
}

// Evaluated is the number of members that ran.
func (d Decision) Evaluated() int { return len(d.Flags) }

// NewEnsemble validates members and passScore. The three parallel concerns of a
// member (classifier, scaler, kind) must all be present and consistent.
func NewEnsemble(members []Member, passScore int) (*Ensemble, error) {
	if len(members) == 0 {
		return nil, errors.Wrap(ErrLoadFailure, "ensemble has no members")
	}
	if passScore < 1 || passScore > len(members) {
		return nil, errors.Wrapf(ErrLoadFailure, "pass score %d outside [1, %d]", passScore, len(members))
	}

	nFeatures := 0
	for i, m := range members {
		if m.Classifier == nil || m.Scaler == nil {
			return nil, errors.Wrapf(ErrLoadFailure, "member %d (%s) is missing its classifier or scaler", i, m.Name)
		}
		if !m.Kind.Valid() {
			return nil, errors.Wrapf(ErrLoadFailure, "member %d (%s) has invalid kind %d", i, m.Name, int(m.Kind))
		}
		if err := checkKind(m.Kind, m.Classifier); err != nil {
			return nil, errors.Wrapf(err, "member %d (%s)", i, m.Name)
		}
		sw, cw := width(m.Scaler), width(m.Classifier)
		if sw > 0 && cw > 0 && sw != cw {
			return nil, errors.Wrapf(ErrLoadFailure, "member %d (%s) scaler emits %d features, classifier expects %d",
				i, m.Name, sw, cw)
		}
		w := max(sw, cw)
		switch {
		case w == 0:
		case nFeatures == 0:
			nFeatures = w
		case nFeatures != w:
			return nil, errors.Wrapf(ErrLoadFailure, "member %d (%s) expects %d features, ensemble expects %d",
				i, m.Name, w, nFeatures)
		}
	}

	ms := make([]Member, len(members))
	copy(ms, members)
	for i := range ms {
		if ms[i].Name == "" {
			ms[i].Name = fmt.Sprintf("model_%d", i)
		}
	}

	return &Ensemble{members: ms, passScore: passScore, nFeatures: nFeatures}, nil
}

// width is the input width v declares, or 0.
func width(v any) int {
	if f, ok := v.(Featured); ok {
		return f.NFeatures()
	}
	return 0
}

func checkKind(kind Kind, c Classifier) error {
	r, isRecon := c.(Reconstructor)
	isRecon = isRecon && r.Reconstructs()
	if kind == ReconstructionBased && !isRecon {
		return errors.Wrapf(ErrLoadFailure, "kind %s needs a reconstruction model, got %T", kind, c)
	}
	if kind != ReconstructionBased && isRecon {
		return errors.Wrapf(ErrLoadFailure, "kind %s cannot use reconstruction model %T", kind, c)
	}
	return nil
}

// PassScore returns the number of passing votes needed to accept a request.
func (e *Ensemble) PassScore() int { return e.passScore }

// Size returns the number of members.
func (e *Ensemble) Size() int { return len(e.members) }

// NFeatures returns the input width declared by the members, or 0 if none declares one.
func (e *Ensemble) NFeatures() int { return e.nFeatures }

// Members returns a copy of the member list in voting order.
func (e *Ensemble) Members() []Member {
	ms := make([]Member, len(e.members))
	copy(ms, e.members)
	return ms
}

// Vote scores x against the members in order and stops as soon as PassScore
// members have voted Pass. A scaler, classifier or policy error aborts the
// request with ErrInference; ctx is checked between members.
func (e *Ensemble) Vote(ctx context.Context, x mat.Matrix) (Decision, error) {
	d := Decision{Flags: make([]Vote, 0, len(e.members))}

	for _, m := range e.members {
		if err := ctx.Err(); err != nil {
			return Decision{}, errors.Wrap(err, "voting canceled")
		}

		v, err := evaluate(m, x)
		if err != nil {
			return Decision{}, errors.Wrapf(markInference(err), "model %s", m.Name)
		}

		d.Flags = append(d.Flags, v)
		if v == Pass {
			d.Score++
		}
		if d.Score >= e.passScore {
			break
		}
	}

	if d.Score >= e.passScore {
		d.Label = Pass
	} else {
		d.Label = Flag
	}
	return d, nil
}

// evaluate runs one member. Panics from matrix code (gonum panics on shape
// errors) are converted into errors so a bad request cannot take down a handler.
func evaluate(m Member, x mat.Matrix) (v Vote, err error) {
	defer func() {
		if r := recover(); r != nil {
			v = Flag
			err = errors.Wrapf(ErrInference, "panic: %v", r)
		}
	}()

	scaled, err := m.Scaler.Transform(x)
	if err != nil {
		return Flag, errors.Wrap(err, "scale")
	}
	raw, err := m.Classifier.Predict(scaled)
	if err != nil {
		return Flag, errors.Wrap(err, "predict")
	}
	return Decide(m.Kind, raw, scaled)
}

func markInference(err error) error {
	if errors.Is(err, ErrInference) {
		return err
	}
	return errors.Mark(err, ErrInference)
}
