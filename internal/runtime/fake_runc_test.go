package runtime

import "context"

// fakeRunc is an in-memory runcClient: it never shells out, so tests can
// exercise the registry's bookkeeping on a host with no runc binary and no
// real namespace support.
type fakeRunc struct {
	states map[string]*runcState
}

func newFakeRunc() *fakeRunc {
	return &fakeRunc{states: map[string]*runcState{}}
}

func (f *fakeRunc) Create(ctx context.Context, id, bundlePath string) error {
	f.states[id] = &runcState{ID: id, Status: "created", Bundle: bundlePath}
	return nil
}

func (f *fakeRunc) Start(ctx context.Context, id string) error {
	st, ok := f.states[id]
	if !ok {
		return ErrRunc
	}
	st.Status = "running"
	return nil
}

func (f *fakeRunc) Delete(ctx context.Context, id string, force bool) error {
	delete(f.states, id)
	return nil
}

func (f *fakeRunc) State(ctx context.Context, id string) (*runcState, error) {
	return f.states[id], nil
}
