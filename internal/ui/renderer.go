// Package ui hosts the Gio windows of the browser. Each Window is one
// registered surface: it renders the view pushed to it and feeds pointer
// input on the tab strip into the drag machine.
package ui

import (
	"image"
	"strings"

	"gioui.org/io/event"
	"gioui.org/io/pointer"
	"gioui.org/layout"
	"gioui.org/op"
	"gioui.org/op/clip"
	"gioui.org/op/paint"
	"gioui.org/widget"
	"gioui.org/widget/material"
	"github.com/dustin/go-humanize"

	"github.com/xplor-dev/xplor/internal/protocol"
	"github.com/xplor-dev/xplor/internal/state"
	"github.com/xplor-dev/xplor/internal/transfer"
)

type UIAction int

const (
	ActionNone UIAction = iota
	ActionNavigate
	ActionBack
	ActionForward
	ActionNewTab
	ActionCloseTab
	ActionSearch
)

type UIEvent struct {
	Action UIAction
	Path   string
	TabID  string
	Query  string
}

// TabItem is one rendered tab.
type TabItem struct {
	ID     string
	Title  string
	Active bool
}

// ViewState is everything the renderer draws in one frame.
type ViewState struct {
	Tabs          []TabItem
	Path          string
	Entries       []protocol.Entry
	CanBack       bool
	CanForward    bool
	ErrMsg        string
	DropIndicator bool
}

// tabTag is the stable pointer-event target for one tab id.
type tabTag struct{ id string }

type entryRow struct {
	click widget.Clickable
}

type Renderer struct {
	Theme     *material.Theme
	listState layout.List

	backBtn   widget.Clickable
	fwdBtn    widget.Clickable
	newTabBtn widget.Clickable

	pathEditor   widget.Editor
	searchEditor widget.Editor

	tabTags map[string]*tabTag
	rows    []entryRow

	// Tab-strip pointer hooks, wired by the owning window. Positions are
	// window local; the drag machine only needs them mutually consistent.
	OnTabPress   func(tabID string, pos image.Point, btn transfer.Button)
	OnTabMove    func(pos image.Point)
	OnTabRelease func(pos image.Point)
}

func NewRenderer() *Renderer {
	r := &Renderer{
		Theme:   material.NewTheme(),
		tabTags: make(map[string]*tabTag),
	}
	r.listState.Axis = layout.Vertical
	r.pathEditor.SingleLine = true
	r.pathEditor.Submit = true
	r.searchEditor.SingleLine = true
	r.searchEditor.Submit = true
	return r
}

// Layout renders one frame and returns the action it produced, if any.
func (r *Renderer) Layout(gtx layout.Context, st *ViewState) UIEvent {
	var out UIEvent

	r.processTabPointer(gtx, st, &out)
	r.processEditors(gtx, st, &out)

	if r.backBtn.Clicked(gtx) && st.CanBack {
		out = UIEvent{Action: ActionBack}
	}
	if r.fwdBtn.Clicked(gtx) && st.CanForward {
		out = UIEvent{Action: ActionForward}
	}
	if r.newTabBtn.Clicked(gtx) {
		out = UIEvent{Action: ActionNewTab}
	}

	if len(r.rows) != len(st.Entries) {
		r.rows = make([]entryRow, len(st.Entries))
	}
	for i := range r.rows {
		if r.rows[i].click.Clicked(gtx) && st.Entries[i].IsDir {
			out = UIEvent{Action: ActionNavigate, Path: st.Entries[i].Path}
		}
	}

	layout.Flex{Axis: layout.Vertical}.Layout(gtx,
		layout.Rigid(func(gtx layout.Context) layout.Dimensions {
			return r.layoutTabStrip(gtx, st)
		}),
		layout.Rigid(func(gtx layout.Context) layout.Dimensions {
			return r.layoutNavBar(gtx, st)
		}),
		layout.Flexed(1, func(gtx layout.Context) layout.Dimensions {
			return r.layoutEntries(gtx, st)
		}),
	)

	if st.DropIndicator {
		bar := clip.Rect{Max: image.Pt(gtx.Constraints.Max.X, gtx.Dp(3))}
		paint.FillShape(gtx.Ops, colAccent, bar.Op())
	}

	return out
}

// eventArea registers tag as a pointer target within the current clip.
func eventArea(gtx layout.Context, tag event.Tag) {
	event.Op(gtx.Ops, tag)
}

func (r *Renderer) tag(id string) *tabTag {
	t, ok := r.tabTags[id]
	if !ok {
		t = &tabTag{id: id}
		r.tabTags[id] = t
	}
	return t
}

// processTabPointer drains pointer events on each tab before layout. Left
// presses feed the drag machine; a middle press closes the tab outright and
// never starts a drag.
func (r *Renderer) processTabPointer(gtx layout.Context, st *ViewState, out *UIEvent) {
	for _, tab := range st.Tabs {
		tag := r.tag(tab.ID)
		for {
			ev, ok := gtx.Event(pointer.Filter{
				Target: tag,
				Kinds:  pointer.Press | pointer.Drag | pointer.Release | pointer.Cancel,
			})
			if !ok {
				break
			}
			e, ok := ev.(pointer.Event)
			if !ok {
				continue
			}
			pos := image.Pt(int(e.Position.X), int(e.Position.Y))
			switch e.Kind {
			case pointer.Press:
				switch {
				case e.Buttons.Contain(pointer.ButtonTertiary):
					*out = UIEvent{Action: ActionCloseTab, TabID: tab.ID}
				case e.Buttons.Contain(pointer.ButtonPrimary):
					if r.OnTabPress != nil {
						r.OnTabPress(tab.ID, pos, transfer.ButtonLeft)
					}
				}
			case pointer.Drag:
				if r.OnTabMove != nil {
					r.OnTabMove(pos)
				}
			case pointer.Release, pointer.Cancel:
				if r.OnTabRelease != nil {
					r.OnTabRelease(pos)
				}
			}
		}
	}
}

func (r *Renderer) processEditors(gtx layout.Context, st *ViewState, out *UIEvent) {
	for {
		ev, ok := r.pathEditor.Update(gtx)
		if !ok {
			break
		}
		if _, ok := ev.(widget.SubmitEvent); ok {
			if path := strings.TrimSpace(r.pathEditor.Text()); path != "" {
				*out = UIEvent{Action: ActionNavigate, Path: path}
			}
		}
	}
	for {
		ev, ok := r.searchEditor.Update(gtx)
		if !ok {
			break
		}
		if _, ok := ev.(widget.SubmitEvent); ok {
			*out = UIEvent{Action: ActionSearch, Query: strings.TrimSpace(r.searchEditor.Text())}
		}
	}
}

func (r *Renderer) layoutTabStrip(gtx layout.Context, st *ViewState) layout.Dimensions {
	stripHeight := gtx.Dp(36)
	tabMinWidth := gtx.Dp(100)
	tabMaxWidth := gtx.Dp(200)

	bg := clip.Rect{Max: image.Pt(gtx.Constraints.Max.X, stripHeight)}
	paint.FillShape(gtx.Ops, colStrip, bg.Op())

	children := make([]layout.FlexChild, 0, len(st.Tabs)+1)
	for _, tab := range st.Tabs {
		tab := tab
		children = append(children, layout.Rigid(func(gtx layout.Context) layout.Dimensions {
			bgColor := colStrip
			if tab.Active {
				bgColor = colWhite
			}

			lbl := material.Body2(r.Theme, tab.Title)
			lbl.Color = colBlack
			if tab.Active {
				lbl.Font.Weight = 600
			}
			macro := op.Record(gtx.Ops)
			dims := lbl.Layout(gtx)
			macro.Stop()

			tabWidth := dims.Size.X + gtx.Dp(24)
			if tabWidth < tabMinWidth {
				tabWidth = tabMinWidth
			}
			if tabWidth > tabMaxWidth {
				tabWidth = tabMaxWidth
			}

			rect := clip.Rect{Max: image.Pt(tabWidth, stripHeight)}
			paint.FillShape(gtx.Ops, bgColor, rect.Op())

			// Right border between tabs.
			borderStack := op.Offset(image.Pt(tabWidth-1, 0)).Push(gtx.Ops)
			paint.FillShape(gtx.Ops, colLightGray, clip.Rect{Max: image.Pt(1, stripHeight)}.Op())
			borderStack.Pop()

			textStack := op.Offset(image.Pt((tabWidth-dims.Size.X)/2, (stripHeight-dims.Size.Y)/2)).Push(gtx.Ops)
			lbl.Layout(gtx)
			textStack.Pop()

			// Pointer area for the drag machine (next frame's events).
			defer rect.Push(gtx.Ops).Pop()
			pointer.CursorPointer.Add(gtx.Ops)
			eventArea(gtx, r.tag(tab.ID))

			return layout.Dimensions{Size: image.Pt(tabWidth, stripHeight)}
		}))
	}
	children = append(children, layout.Rigid(func(gtx layout.Context) layout.Dimensions {
		return layout.UniformInset(4).Layout(gtx, func(gtx layout.Context) layout.Dimensions {
			btn := material.Button(r.Theme, &r.newTabBtn, "+")
			btn.Inset = layout.UniformInset(6)
			return btn.Layout(gtx)
		})
	}))

	return layout.Flex{Axis: layout.Horizontal, Alignment: layout.Middle}.Layout(gtx, children...)
}

func (r *Renderer) layoutNavBar(gtx layout.Context, st *ViewState) layout.Dimensions {
	return layout.UniformInset(6).Layout(gtx, func(gtx layout.Context) layout.Dimensions {
		return layout.Flex{Axis: layout.Horizontal, Alignment: layout.Middle, Spacing: layout.SpaceBetween}.Layout(gtx,
			layout.Rigid(func(gtx layout.Context) layout.Dimensions {
				btn := material.Button(r.Theme, &r.backBtn, "<")
				if !st.CanBack {
					btn.Background = colDisabled
				}
				return btn.Layout(gtx)
			}),
			layout.Rigid(layout.Spacer{Width: 4}.Layout),
			layout.Rigid(func(gtx layout.Context) layout.Dimensions {
				btn := material.Button(r.Theme, &r.fwdBtn, ">")
				if !st.CanForward {
					btn.Background = colDisabled
				}
				return btn.Layout(gtx)
			}),
			layout.Rigid(layout.Spacer{Width: 8}.Layout),
			layout.Flexed(2, func(gtx layout.Context) layout.Dimensions {
				ed := material.Editor(r.Theme, &r.pathEditor, st.Path)
				return widget.Border{Color: colLightGray, Width: 1, CornerRadius: 2}.Layout(gtx,
					func(gtx layout.Context) layout.Dimensions {
						return layout.UniformInset(4).Layout(gtx, ed.Layout)
					})
			}),
			layout.Rigid(layout.Spacer{Width: 8}.Layout),
			layout.Flexed(1, func(gtx layout.Context) layout.Dimensions {
				ed := material.Editor(r.Theme, &r.searchEditor, "search")
				return widget.Border{Color: colLightGray, Width: 1, CornerRadius: 2}.Layout(gtx,
					func(gtx layout.Context) layout.Dimensions {
						return layout.UniformInset(4).Layout(gtx, ed.Layout)
					})
			}),
		)
	})
}

func (r *Renderer) layoutEntries(gtx layout.Context, st *ViewState) layout.Dimensions {
	if st.ErrMsg != "" {
		lbl := material.Body1(r.Theme, st.ErrMsg)
		lbl.Color = colDanger
		return layout.UniformInset(8).Layout(gtx, lbl.Layout)
	}

	return r.listState.Layout(gtx, len(st.Entries), func(gtx layout.Context, i int) layout.Dimensions {
		entry := st.Entries[i]
		return material.Clickable(gtx, &r.rows[i].click, func(gtx layout.Context) layout.Dimensions {
			return layout.UniformInset(6).Layout(gtx, func(gtx layout.Context) layout.Dimensions {
				return layout.Flex{Axis: layout.Horizontal, Spacing: layout.SpaceBetween}.Layout(gtx,
					layout.Rigid(func(gtx layout.Context) layout.Dimensions {
						lbl := material.Body1(r.Theme, entry.Name)
						if entry.IsDir {
							lbl.Color = colDirBlue
							lbl.Font.Weight = 600
						}
						return lbl.Layout(gtx)
					}),
					layout.Rigid(func(gtx layout.Context) layout.Dimensions {
						size := ""
						if !entry.IsDir {
							size = humanize.IBytes(uint64(entry.Size))
						}
						lbl := material.Body2(r.Theme, size)
						lbl.Color = colGray
						return lbl.Layout(gtx)
					}),
				)
			})
		})
	})
}
