package flow

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/DreamPipe/internal/locale"
	"github.com/BTreeMap/DreamPipe/internal/models"
	"github.com/BTreeMap/DreamPipe/internal/util"
)

var (
	// ErrStaleGeneration is returned when a generation finishes for a session
	// that has since left the processing state.
	ErrStaleGeneration = errors.New("session is no longer waiting for a generation")
	// ErrCorruptSession wraps validation failures of a stored session.
	ErrCorruptSession = errors.New("stored session is corrupt")
	// ErrUnknownEvent is returned for event kinds the dialogue does not handle.
	ErrUnknownEvent = errors.New("unknown event kind")
)

// Turn is the outcome of one event: the session to persist and what to show.
type Turn struct {
	Session models.Session
	Screen  models.Screen
	// Interlude, when set, is shown before a generation starts.
	Interlude *models.Screen
	// Generate is set when the turn entered the processing state.
	Generate *models.PromptData
}

// Machine is the dialogue transition table. It is pure: it never touches
// storage or transports and is safe for concurrent use.
type Machine struct {
	catalog      *locale.Catalog
	quota        *QuotaGate
	promoChannel string
}

// MachineOption configures a Machine.
type MachineOption func(*Machine)

// WithPromoChannel shows a promo interlude naming channel before each generation.
func WithPromoChannel(channel string) MachineOption {
	return func(m *Machine) { m.promoChannel = strings.TrimSpace(channel) }
}

// NewMachine creates a Machine.
func NewMachine(catalog *locale.Catalog, quota *QuotaGate, opts ...MachineOption) *Machine {
	m := &Machine{catalog: catalog, quota: quota}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Quota returns the gate used by the machine.
func (m *Machine) Quota() *QuotaGate { return m.quota }

// Language picks the UI language for a session, falling back to the client hint.
func (m *Machine) Language(s models.Session, hint string) string {
	if s.Language != "" {
		return m.catalog.Resolve(s.Language)
	}
	return m.catalog.Resolve(hint)
}

// HandleTurn computes the next session and screen for ev.
func (m *Machine) HandleTurn(userID string, s models.Session, ev models.Event) (Turn, error) {
	if err := s.Validate(); err != nil {
		return Turn{}, fmt.Errorf("%w: %v", ErrCorruptSession, err)
	}
	s = s.Clone()
	lang := m.Language(s, ev.LanguageHint)

	switch ev.Kind {
	case models.EventStart:
		return m.start(userID, s, lang), nil
	case models.EventHelp:
		return Turn{Session: s, Screen: screen(markdown(m.catalog.T(lang, locale.KeyHelp)))}, nil
	case models.EventLanguage:
		return Turn{Session: s, Screen: screen(m.languageMenu(lang))}, nil
	case models.EventUnknownCommand:
		return Turn{Session: s, Screen: screen(plain(m.catalog.T(lang, locale.KeyUnknownCommand)))}, nil
	case models.EventCallback:
		return m.callback(userID, s, ev, lang), nil
	case models.EventText:
		return m.text(userID, s, ev, lang), nil
	default:
		return Turn{}, fmt.Errorf("%w: %q", ErrUnknownEvent, ev.Kind)
	}
}

func (m *Machine) start(userID string, s models.Session, lang string) Turn {
	if !m.quota.HasPermission(userID, s) {
		slog.Debug("Machine start blocked by quota", "userID", userID, "count", s.CountAIRequests)
		return Turn{Session: s, Screen: screen(m.quotaMessage(lang))}
	}
	s.ResetDialogue()
	if s.Language == "" {
		return Turn{Session: s, Screen: screen(m.languageMenu(lang))}
	}
	return Turn{Session: s, Screen: screen(m.interpreterMenu(lang, locale.KeyWelcome))}
}

func (m *Machine) callback(userID string, s models.Session, ev models.Event, lang string) Turn {
	switch {
	case ev.Data == models.CallbackRestart:
		return m.start(userID, s, lang)

	case strings.HasPrefix(ev.Data, models.CallbackLanguagePrefix):
		code := strings.TrimPrefix(ev.Data, models.CallbackLanguagePrefix)
		if !m.catalog.Supports(code) {
			return Turn{Session: s, Screen: models.Screen{CallbackAnswer: m.catalog.T(lang, locale.KeyStaleButton)}}
		}
		s.Language = code
		t := m.rerender(userID, s, code)
		t.Screen.CallbackAnswer = m.catalog.T(code, locale.KeyLanguageSelected)
		return t

	case strings.HasPrefix(ev.Data, models.CallbackInterpreterPrefix):
		if s.State != models.StateWaitingInterpreter {
			return Turn{Session: s, Screen: models.Screen{CallbackAnswer: m.catalog.T(lang, locale.KeyStaleButton)}}
		}
		key := strings.TrimPrefix(ev.Data, models.CallbackInterpreterPrefix)
		in, ok := m.catalog.Interpreter(lang, key)
		if !ok {
			return Turn{Session: s, Screen: models.Screen{CallbackAnswer: m.catalog.T(lang, locale.KeyUnknownInterpreter)}}
		}
		if !m.quota.HasPermission(userID, s) {
			return Turn{Session: s, Screen: screen(m.quotaMessage(lang))}
		}
		s.Interpreter = key
		s.State = models.StateWaitingDream
		desc := markdown(in.Description)
		return Turn{Session: s, Screen: models.Screen{
			CallbackAnswer: m.catalog.T(lang, locale.KeyInterpreterSelected, "name", in.Button),
			Edit:           &desc,
			Messages:       []models.Message{plain(m.catalog.T(lang, locale.KeyDreamPrompt))},
		}}
	}

	slog.Debug("Machine ignoring unknown callback", "userID", userID, "data", ev.Data)
	return Turn{Session: s, Screen: models.Screen{CallbackAnswer: m.catalog.T(lang, locale.KeyStaleButton)}}
}

// rerender shows the prompt for the step the session is already in.
func (m *Machine) rerender(userID string, s models.Session, lang string) Turn {
	switch s.State {
	case models.StateWaitingInterpreter:
		if !m.quota.HasPermission(userID, s) {
			return Turn{Session: s, Screen: screen(m.quotaMessage(lang))}
		}
		return Turn{Session: s, Screen: screen(m.interpreterMenu(lang, locale.KeyWelcome))}
	case models.StateWaitingDream:
		return Turn{Session: s, Screen: screen(plain(m.catalog.T(lang, locale.KeyDreamPrompt)))}
	case models.StateAskingQuestions:
		return Turn{Session: s, Screen: screen(m.question(lang, s.CurrentQuestion))}
	case models.StateProcessing:
		return Turn{Session: s, Screen: screen(plain(m.catalog.T(lang, locale.KeyStillProcessing)))}
	default:
		return Turn{Session: s, Screen: screen(plain(m.catalog.T(lang, locale.KeyPressStart)))}
	}
}

func (m *Machine) text(userID string, s models.Session, ev models.Event, lang string) Turn {
	switch s.State {
	case models.StateWaitingInterpreter:
		return Turn{Session: s, Screen: screen(plain(m.catalog.T(lang, locale.KeyChooseInterpreterFirst)))}

	case models.StateWaitingDream:
		dream := util.StripEmoji(ev.Text)
		switch n := util.VisibleLength(dream); {
		case n < models.MinDreamLength:
			return Turn{Session: s, Screen: screen(plain(m.catalog.T(lang, locale.KeyDreamTooShort)))}
		case n > models.MaxDreamLength:
			return Turn{Session: s, Screen: screen(plain(m.catalog.T(lang, locale.KeyDreamTooLong)))}
		}
		s.DreamText = dream
		s.Answers = []string{}
		s.CurrentQuestion = 0
		s.State = models.StateAskingQuestions
		return Turn{Session: s, Screen: screen(plain(m.catalog.T(lang, locale.KeyDreamReceived)), m.question(lang, 0))}

	case models.StateAskingQuestions:
		answer := strings.Join(strings.Fields(util.StripEmoji(ev.Text)), " ")
		if w := util.WordCount(answer); w == 0 || w > models.MaxAnswerWords {
			return Turn{Session: s, Screen: screen(plain(m.catalog.T(lang, locale.KeyAnswerTooLong)), m.question(lang, s.CurrentQuestion))}
		}
		s.Answers = append(s.Answers, answer)
		s.CurrentQuestion++
		if s.CurrentQuestion < models.QuestionCount {
			return Turn{Session: s, Screen: screen(m.question(lang, s.CurrentQuestion))}
		}
		if !m.quota.HasPermission(userID, s) {
			s.ResetDialogue()
			return Turn{Session: s, Screen: screen(m.quotaMessage(lang))}
		}
		s.State = models.StateProcessing
		t := Turn{
			Session: s,
			Screen:  screen(markdown(m.catalog.T(lang, locale.KeyAnalyzing))),
			Generate: &models.PromptData{
				Language:    lang,
				Interpreter: s.Interpreter,
				DreamText:   s.DreamText,
				Answers:     append([]string{}, s.Answers...),
			},
		}
		if m.promoChannel != "" {
			promo := screen(plain(m.catalog.T(lang, locale.KeyPromo, "channel", m.promoChannel)))
			t.Interlude = &promo
		}
		return t

	case models.StateProcessing:
		return Turn{Session: s, Screen: screen(plain(m.catalog.T(lang, locale.KeyStillProcessing)))}

	default:
		return Turn{Session: s, Screen: screen(plain(m.catalog.T(lang, locale.KeyPressStart)))}
	}
}

// CompleteGeneration applies the result of a generation to a reloaded session.
func (m *Machine) CompleteGeneration(userID string, s models.Session, result string, genErr error) (Turn, error) {
	if s.State != models.StateProcessing {
		return Turn{}, fmt.Errorf("%w: state is %s", ErrStaleGeneration, s.State)
	}
	s = s.Clone()
	lang := m.Language(s, "")

	if genErr != nil {
		s.ResetDialogue()
		failed := plain(m.catalog.T(lang, locale.KeyAnalysisFailed))
		failed.Buttons = m.restartButtons(lang)
		return Turn{Session: s, Screen: screen(failed)}, nil
	}

	s.CountAIRequests++
	s.State = models.StateCompleted
	msgs := []models.Message{{
		Heading:    m.catalog.T(lang, locale.KeyResultHeading),
		Text:       result,
		Format:     models.FormatGenerated,
		Persistent: true,
	}}
	s.ResetDialogue()
	if m.quota.HasPermission(userID, s) {
		msgs = append(msgs, m.interpreterMenu(lang, locale.KeyAnotherDream))
	} else {
		msgs = append(msgs, m.quotaMessage(lang))
	}
	return Turn{Session: s, Screen: models.Screen{Messages: msgs}}, nil
}

// RecoveryTurn resets a session after a failed turn and shows the generic error.
// Language and the request counter are kept.
func (m *Machine) RecoveryTurn(s models.Session, hint string) Turn {
	s = s.Clone()
	s.ResetDialogue()
	if s.CountAIRequests < 0 {
		s.CountAIRequests = 0
	}
	if s.Language != "" && !m.catalog.Supports(s.Language) {
		s.Language = ""
	}
	return Turn{Session: s, Screen: screen(plain(m.catalog.T(m.Language(s, hint), locale.KeyGenericError)))}
}

// PrivateOnlyScreen is shown when the bot is addressed outside a private chat.
func (m *Machine) PrivateOnlyScreen(hint string) models.Screen {
	return screen(plain(m.catalog.T(m.catalog.Resolve(hint), locale.KeyPrivateOnly)))
}
