package anyac

import (
	"github.com/unixpickle/anydiff"

	"github.com/anyloss/anyloss"
)

func configError(op, message string) error {
	return &anyloss.ConfigError{Op: op, Message: message}
}

// minAll folds an elementwise minimum over the results.
func minAll(reses []anydiff.Res) anydiff.Res {
	res := reses[0]
	for _, r := range reses[1:] {
		res = anydiff.ElemMin(res, r)
	}
	return res
}

// meanAll averages the results elementwise.
func meanAll(reses []anydiff.Res) anydiff.Res {
	c := reses[0].Output().Creator()
	sum := reses[0]
	for _, r := range reses[1:] {
		sum = anydiff.Add(sum, r)
	}
	return anydiff.Scale(sum, c.MakeNumeric(1/float64(len(reses))))
}
