package session

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"reflect"

	persistlog "gadgetgrid/internal/persistence/log"
)

var errStop = errors.New("stop")

// Replay re-applies logged steps after the play's current step, oldest file
// first, and checks that each one reproduces the logged outcome. toStep > 0 stops
// after that step. It returns how many steps were verified.
//
// Undo history is not part of a snapshot, so a log that undoes past the step the
// play started from is reported as a mismatch.
func Replay(p *Play, files []string, toStep uint64) (uint64, error) {
	var checked uint64
	for _, path := range files {
		err := persistlog.ReadSteps(path, func(e persistlog.StepEntry) error {
			if e.Step <= p.Step() {
				return nil
			}
			if toStep != 0 && e.Step > toStep {
				return errStop
			}
			if e.Step != p.Step()+1 {
				return fmt.Errorf("%s: gap: have step %d, next logged step is %d", filepath.Base(path), p.Step(), e.Step)
			}
			cmd := CommandFromEntry(e)
			r, err := p.Apply(cmd)
			if err != nil {
				return fmt.Errorf("step %d: %w", e.Step, err)
			}
			if got := p.Entry(cmd, r); !reflect.DeepEqual(got, e) {
				return fmt.Errorf("step %d mismatch:\n got %+v\nwant %+v", e.Step, got, e)
			}
			checked++
			return nil
		})
		if errors.Is(err, errStop) {
			break
		}
		if err != nil {
			return checked, err
		}
	}
	return checked, nil
}

// Resumed reports what Resume did with the step log.
type Resumed struct {
	// Replayed counts logged steps applied on top of the loaded state.
	Replayed uint64
	// LastLogged is the highest step found in the log, 0 for an empty log.
	LastLogged uint64
	// Skipped is set when the step counter was moved past logged steps that were
	// not applied. The caller should save right away so later replays start from
	// the new state.
	Skipped bool
	// Err is why replay stopped early, if it did.
	Err error
}

// Resume brings a freshly loaded play up to date with the step log in stepsDir,
// so that new steps never reuse a logged step number. With replay set, the steps
// logged after the play's step are applied first. Whatever could not be applied
// is skipped.
func Resume(p *Play, stepsDir string, replay bool) (Resumed, error) {
	var res Resumed
	files, err := persistlog.ListFiles(stepsDir, persistlog.StepPrefix)
	if errors.Is(err, fs.ErrNotExist) {
		return res, nil
	}
	if err != nil {
		return res, err
	}
	if replay {
		res.Replayed, res.Err = Replay(p, files, 0)
	}
	res.LastLogged = lastLogged(files)
	if res.LastLogged > p.Step() {
		p.SetStep(res.LastLogged)
		res.Skipped = true
	}
	return res, nil
}

// lastLogged scans every file for the highest step. A crash can leave the newest
// file with a truncated tail; everything before the damage still counts.
func lastLogged(files []string) uint64 {
	var last uint64
	for _, path := range files {
		_ = persistlog.ReadSteps(path, func(e persistlog.StepEntry) error {
			last = max(last, e.Step)
			return nil
		})
	}
	return last
}
