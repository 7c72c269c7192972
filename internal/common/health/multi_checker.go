package health

import (
	"errors"
)

// MultiChecker aggregates checkers; it reports healthy only when every
// registered checker does.
type MultiChecker struct {
	checkers []Checker
}

func NewMultiChecker(checkers ...Checker) *MultiChecker {
	return &MultiChecker{
		checkers: checkers,
	}
}

func (mc *MultiChecker) Add(checker Checker) {
	mc.checkers = append(mc.checkers, checker)
}

func (mc *MultiChecker) Check() error {
	var errs []error
	for _, checker := range mc.checkers {
		if err := checker.Check(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
