package server

import (
	"github.com/jroosing/hydranamed/internal/view"
	"github.com/jroosing/hydranamed/internal/zone"
)

type pendingSettings struct {
	zone     *zone.Zone
	settings *zone.Settings
}

// stage is a generation under construction. Reused production zones get their
// new settings only at commit, so a failed reconfiguration leaves them as
// they were.
type stage struct {
	list    *view.List
	pending []pendingSettings
}

func newStage() *stage {
	return &stage{list: view.NewList()}
}

// view returns the staging view name/class, creating it on first use.
func (st *stage) view(name string, class uint16) (*view.View, error) {
	if v, err := st.list.Find(name, class); err == nil {
		return v, nil
	}
	v := view.New(name, class)
	if err := st.list.Append(v); err != nil {
		v.Detach()
		return nil, err
	}
	return v, nil
}

func (st *stage) deferConfigure(z *zone.Zone, s *zone.Settings) {
	st.pending = append(st.pending, pendingSettings{zone: z, settings: s})
}

// commit applies the pending settings of reused zones.
func (st *stage) commit() error {
	for _, p := range st.pending {
		if err := p.zone.Configure(p.settings); err != nil {
			return err
		}
	}
	st.pending = nil
	return nil
}

// take hands the staged list to the caller. The stage no longer releases it.
func (st *stage) take() *view.List {
	l := st.list
	st.list = nil
	return l
}

// release drops the staged generation unless it was taken.
func (st *stage) release() {
	if st.list != nil {
		st.list.Release()
		st.list = nil
	}
	st.pending = nil
}
