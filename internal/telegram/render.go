package telegram

import (
	tele "gopkg.in/telebot.v4"

	"github.com/BTreeMap/DreamPipe/internal/models"
	"github.com/BTreeMap/DreamPipe/internal/util"
)

// Rendered is a message ready for the Bot API.
type Rendered struct {
	Text    string
	Options *tele.SendOptions
}

// Render converts a transport-neutral message into Bot API text and options.
// Generated text is escaped for MarkdownV2 and fitted to MaxMessageLength;
// locale text keeps its legacy Markdown markup.
func Render(msg models.Message) Rendered {
	opts := &tele.SendOptions{}
	var text string

	switch msg.Format {
	case models.FormatGenerated:
		opts.ParseMode = tele.ModeMarkdownV2
		text = util.FitMarkdownV2(msg.Heading, msg.Text, MaxMessageLength)
	case models.FormatMarkdown:
		opts.ParseMode = tele.ModeMarkdown
		text = util.TruncateText(withHeading(msg), MaxMessageLength)
	default:
		text = util.TruncateText(withHeading(msg), MaxMessageLength)
	}

	if len(msg.Buttons) > 0 {
		rows := make([][]tele.InlineButton, 0, len(msg.Buttons))
		for _, row := range msg.Buttons {
			btns := make([]tele.InlineButton, 0, len(row))
			for _, b := range row {
				btns = append(btns, tele.InlineButton{Text: b.Text, Data: b.Data})
			}
			rows = append(rows, btns)
		}
		opts.ReplyMarkup = &tele.ReplyMarkup{InlineKeyboard: rows}
	}
	return Rendered{Text: text, Options: opts}
}

func withHeading(msg models.Message) string {
	if msg.Heading == "" {
		return msg.Text
	}
	return msg.Heading + "\n\n" + msg.Text
}
