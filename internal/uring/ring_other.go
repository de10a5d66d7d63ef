//go:build !linux

package uring

// Ring is the non-Linux stub: this package only exists so the rest of the
// module still compiles on platforms without io_uring. New, Close, Submit
// and SubmitAndWait return ErrUnsupported, GetSQE reports no free entry,
// ForEachCQE visits nothing, and the remaining methods do nothing.
type Ring struct{}

// SQE is an opaque handle, unused on this platform.
type SQE struct{}

// New always fails on non-Linux platforms.
func New(p Params) (*Ring, error) {
	return nil, ErrUnsupported
}

func (r *Ring) Close() error {
	return ErrUnsupported
}

func (r *Ring) GetSQE() (SQE, bool) {
	return SQE{}, false
}

func (r *Ring) PrepRead(s SQE, fd int, buf []byte) {}

func (r *Ring) PrepWrite(s SQE, fd int, buf []byte) {}

func (r *Ring) PrepNop(s SQE) {}

func (r *Ring) SetUserData(s SQE, id uint64) {}

func (r *Ring) Submit() (int, error) {
	return 0, ErrUnsupported
}

func (r *Ring) SubmitAndWait(minComplete uint32) (int, error) {
	return 0, ErrUnsupported
}

func (r *Ring) ForEachCQE(fn func(CQE)) uint32 {
	return 0
}

func (r *Ring) CQAdvance(count uint32) {}
