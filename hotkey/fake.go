package hotkey

type FakeHotkey struct {
	pressed    chan struct{}
	registered bool
	RegErr     error
}

func NewFake() *FakeHotkey {
	return &FakeHotkey{pressed: make(chan struct{}, 1)}
}

func (f *FakeHotkey) Register() error {
	if f.RegErr != nil {
		return f.RegErr
	}
	f.registered = true
	return nil
}

func (f *FakeHotkey) Unregister()              { f.registered = false }
func (f *FakeHotkey) Pressed() <-chan struct{} { return f.pressed }

// Press simulates one chord press and blocks until it is picked up.
func (f *FakeHotkey) Press() { f.pressed <- struct{}{} }
