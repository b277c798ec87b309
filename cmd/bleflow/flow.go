package main

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/srg/bleflow/pkg/bluetooth"
	"github.com/srg/bleflow/pkg/central"
	"github.com/srg/bleflow/pkg/effect"
	"github.com/srg/bleflow/pkg/peripheral"
	"github.com/srg/bleflow/pkg/store"
)

// action is everything a command store reduces.
type action interface{ isCommandAction() }

type (
	// started is sent once when the command begins.
	started struct{}
	// centralAction carries an action of the central client.
	centralAction struct{ central.Action }
	// peripheralAction carries an action of a peripheral manager instance.
	peripheralAction struct{ peripheral.Action }
	// updateSent reports whether a notification of a characteristic was accepted.
	updateSent struct {
		characteristic bluetooth.UUID
		ok             bool
	}
	// written reports the end of a write that the delegate does not confirm.
	written struct{ err error }
)

func (started) isCommandAction()          {}
func (centralAction) isCommandAction()    {}
func (peripheralAction) isCommandAction() {}
func (updateSent) isCommandAction()       {}
func (written) isCommandAction()          {}

func fromCentral(e effect.Effect[central.Action]) effect.Effect[action] {
	return effect.Map(e, func(a central.Action) action { return centralAction{a} })
}

func fromPeripheral(e effect.Effect[peripheral.Action]) effect.Effect[action] {
	return effect.Map(e, func(a peripheral.Action) action { return peripheralAction{a} })
}

// outcome is what a command state reports once it is finished.
type outcome struct {
	done bool
	err  error
}

// finish marks the outcome done with err unless it already finished.
func (o *outcome) finish(err error) {
	if o.done {
		return
	}
	o.done = true
	o.err = err
}

// runStore drives a store from started until finished reports done or ctx ends.
// The final state is returned in both cases.
func runStore[S any](ctx context.Context, initial S, reducer store.Reducer[S, action], finished func(S) outcome, logger *logrus.Logger) (S, error) {
	st := store.New(initial, reducer, logger)
	defer st.Close()

	result := make(chan error, 1)
	var once sync.Once
	st.Subscribe(func(s S) {
		if o := finished(s); o.done {
			once.Do(func() { result <- o.err })
		}
	})

	st.Send(started{})

	select {
	case err := <-result:
		return st.State(), err
	case <-ctx.Done():
		return st.State(), ctx.Err()
	}
}
