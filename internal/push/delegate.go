package push

// Delegate receives the outcome of activation work. Calls are made from the
// machine goroutine, one per completed Activate or Deactivate cycle.
type Delegate interface {
	OnActivationFinished(err error)
	OnDeactivationFinished(err error)
	// OnRegistrationUpdateFailed reports a background sync failure that no
	// Activate call is waiting on.
	OnRegistrationUpdateFailed(err error)
}

// DelegateFuncs adapts plain functions to Delegate. Nil fields are skipped.
type DelegateFuncs struct {
	Activated    func(error)
	Deactivated  func(error)
	UpdateFailed func(error)
}

func (d DelegateFuncs) OnActivationFinished(err error) {
	if d.Activated != nil {
		d.Activated(err)
	}
}

func (d DelegateFuncs) OnDeactivationFinished(err error) {
	if d.Deactivated != nil {
		d.Deactivated(err)
	}
}

func (d DelegateFuncs) OnRegistrationUpdateFailed(err error) {
	if d.UpdateFailed != nil {
		d.UpdateFailed(err)
	}
}
