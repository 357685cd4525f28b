package flow

import (
	"strconv"

	"github.com/BTreeMap/DreamPipe/internal/locale"
	"github.com/BTreeMap/DreamPipe/internal/models"
)

func screen(msgs ...models.Message) models.Screen {
	return models.Screen{Messages: msgs}
}

func plain(text string) models.Message {
	return models.Message{Text: text, Format: models.FormatPlain}
}

func markdown(text string) models.Message {
	return models.Message{Text: text, Format: models.FormatMarkdown}
}

func (m *Machine) languageMenu(lang string) models.Message {
	langs := m.catalog.Languages()
	rows := make([][]models.Button, 0, len(langs))
	for _, l := range langs {
		rows = append(rows, []models.Button{{Text: l.Name, Data: models.CallbackLanguagePrefix + l.Code}})
	}
	msg := plain(m.catalog.T(lang, locale.KeyChooseLanguage))
	msg.Buttons = rows
	return msg
}

// interpreterMenu renders the text under key followed by one button per interpreter.
func (m *Machine) interpreterMenu(lang, key string) models.Message {
	ins := m.catalog.Interpreters(lang)
	rows := make([][]models.Button, 0, len(ins))
	for _, in := range ins {
		rows = append(rows, []models.Button{{Text: in.Button, Data: models.CallbackInterpreterPrefix + in.Key}})
	}
	msg := markdown(m.catalog.T(lang, key))
	msg.Buttons = rows
	return msg
}

func (m *Machine) restartButtons(lang string) [][]models.Button {
	return [][]models.Button{{{Text: m.catalog.T(lang, locale.KeyRestartButton), Data: models.CallbackRestart}}}
}

func (m *Machine) quotaMessage(lang string) models.Message {
	msg := plain(m.catalog.T(lang, locale.KeyQuotaExceeded))
	msg.Buttons = m.restartButtons(lang)
	return msg
}

func (m *Machine) question(lang string, i int) models.Message {
	qs := m.catalog.Questions(lang)
	text := ""
	if i >= 0 && i < len(qs) {
		text = qs[i].Text
	}
	return markdown(m.catalog.T(lang, locale.KeyQuestion,
		"n", strconv.Itoa(i+1), "total", strconv.Itoa(models.QuestionCount), "question", text))
}
