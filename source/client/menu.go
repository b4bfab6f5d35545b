package client

// MenuChoice is one selectable row in a Menu.
type MenuChoice struct {
	Label    string
	OnSelect func()
}

// Menu is a list of labeled choices with a callback, owned by the Menu
// state.
type Menu struct {
	Choices  []MenuChoice
	Selected int
}

// NewMenu builds a menu positioned at its first choice.
func NewMenu(choices ...MenuChoice) *Menu {
	return &Menu{Choices: choices}
}

func (m *Menu) moveUp() {
	if len(m.Choices) == 0 {
		return
	}
	m.Selected = (m.Selected - 1 + len(m.Choices)) % len(m.Choices)
}

func (m *Menu) moveDown() {
	if len(m.Choices) == 0 {
		return
	}
	m.Selected = (m.Selected + 1) % len(m.Choices)
}

func (m *Menu) selectCurrent() {
	if m.Selected < 0 || m.Selected >= len(m.Choices) {
		return
	}
	if fn := m.Choices[m.Selected].OnSelect; fn != nil {
		fn()
	}
}

// menuState is the root state of every client session. It owns the main
// menu and unpauses the tick source when it becomes hidden and pauses it
// when it is shown again.
type menuState struct {
	session *Session
	menu    *Menu
}

func newMenuState(s *Session) *menuState {
	st := &menuState{session: s}
	st.menu = NewMenu(
		MenuChoice{Label: "Start Game", OnSelect: st.startGame},
		MenuChoice{Label: "Quit", OnSelect: st.quit},
	)
	return st
}

func (m *menuState) startGame() {
	m.session.Push(newConnectingState(m.session))
}

func (m *menuState) quit() {
	m.session.Shutdown()
}

// Pause is called when another state is pushed on top, i.e. the menu is
// hidden: it unpauses the clock so gameplay/handshake ticks advance
// while the menu isn't showing.
func (m *menuState) Pause() {
	m.session.clock.Unpause()
}

// Resume is called when the menu becomes the top state again, i.e. it
// is shown: it pauses the clock.
func (m *menuState) Resume() {
	m.session.clock.Pause()
}

func (m *menuState) ConsumeEvent(ev Event) {
	switch ev {
	case EventUp:
		m.menu.moveUp()
	case EventDown:
		m.menu.moveDown()
	case EventEnter:
		m.menu.selectCurrent()
	}
}

func (m *menuState) Update() {}

func (m *menuState) Draw() {}
