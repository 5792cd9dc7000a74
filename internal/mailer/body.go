package mailer

import (
	"fmt"
	"html"
	"strings"

	"classrelay/pkg/types"
)

const (
	student1Color = "#0070ff"
	student2Color = "red"
	teacherColor  = "purple"
)

// textBody renders the plain-text digest for old email clients.
func textBody(chats []*types.PairedChat, soloChats []*types.SoloChat) string {
	var b strings.Builder

	if len(chats) > 0 {
		b.WriteString("----- Paired Students Chats -----\n\n")
		for i, chat := range chats {
			if i != 0 {
				b.WriteString("\n\n")
			}
			fmt.Fprintf(&b, "----- Paired Students Chat #%d -----\n", i+1)
			fmt.Fprintf(&b, "%s as %s\n", chat.Students[0].RealName, chat.Students[0].Character)
			fmt.Fprintf(&b, "%s as %s\n\n", chat.Students[1].RealName, chat.Students[1].Character)
			for _, msg := range chat.Messages {
				fmt.Fprintf(&b, "%s: %s\n", pairedAuthorLabel(chat, msg.Author), msg.Text)
			}
		}
	}

	if len(soloChats) > 0 {
		b.WriteString("\n\n----- Solo Chats -----\n\n")
		for i, chat := range soloChats {
			if i != 0 {
				b.WriteString("\n\n")
			}
			fmt.Fprintf(&b, "----- Solo Chat #%d -----\n", i+1)
			fmt.Fprintf(&b, "%s as %s\n", chat.Student.RealName, chat.Student.Character)
			b.WriteString("chatbot\n\n")
			for _, msg := range chat.Messages {
				fmt.Fprintf(&b, "%s: %s\n", soloAuthorLabel(chat, msg.Author), msg.Text)
			}
		}
	}

	b.WriteString("\n\n-----\n")
	b.WriteString("All conversations in this email were created by students in class.")
	return b.String()
}

// htmlBody renders the HTML digest.
func htmlBody(chats []*types.PairedChat, soloChats []*types.SoloChat) string {
	var b strings.Builder

	if len(chats) > 0 {
		b.WriteString(`<div style="font-size: 24px; font-weight: bold; text-align: center;">Paired Students Chats</div>`)
		for i, chat := range chats {
			margin := ""
			if i != 0 {
				margin = "margin-top: 32px;"
			}
			fmt.Fprintf(&b, `<div style="font-size: 18px; %s">----- Paired Students Chat #%d -----</div>`, margin, i+1)
			fmt.Fprintf(&b, `<div style="font-size: 18px;">%s as <span style="color: %s; font-weight: bold;">%s</span></div>`,
				html.EscapeString(chat.Students[0].RealName), student1Color, html.EscapeString(chat.Students[0].Character))
			fmt.Fprintf(&b, `<div style="font-size: 18px; margin-bottom: 16px;">%s as <span style="color: %s; font-weight: bold;">%s</span></div>`,
				html.EscapeString(chat.Students[1].RealName), student2Color, html.EscapeString(chat.Students[1].Character))
			for _, msg := range chat.Messages {
				writeHTMLMessage(&b, pairedAuthorLabel(chat, msg.Author), pairedAuthorColor(msg.Author), msg.Text)
			}
		}
	}

	if len(soloChats) > 0 {
		b.WriteString(`<div style="font-size: 24px; font-weight: bold; text-align: center; margin-top: 32px;">Solo Chats</div>`)
		for i, chat := range soloChats {
			margin := ""
			if i != 0 {
				margin = "margin-top: 32px;"
			}
			fmt.Fprintf(&b, `<div style="font-size: 18px; %s">----- Solo Chat #%d -----</div>`, margin, i+1)
			fmt.Fprintf(&b, `<div style="font-size: 18px;">%s as <span style="color: %s; font-weight: bold;">%s</span></div>`,
				html.EscapeString(chat.Student.RealName), student1Color, html.EscapeString(chat.Student.Character))
			fmt.Fprintf(&b, `<div style="font-size: 18px; margin-bottom: 16px;"><span style="color: %s; font-weight: bold;">chatbot</span></div>`, student2Color)
			for _, msg := range chat.Messages {
				writeHTMLMessage(&b, soloAuthorLabel(chat, msg.Author), soloAuthorColor(msg.Author), msg.Text)
			}
		}
	}

	b.WriteString(`<div style="margin-top: 32px; text-align: center; font-size: 16px">-----</div>`)
	b.WriteString(`<div style="text-align: center; font-size: 16px">All conversations in this email were created by students in class.</div>`)
	return b.String()
}

func writeHTMLMessage(b *strings.Builder, label, color, text string) {
	fmt.Fprintf(b, `<div style="font-size: 16px;"><span style="color: %s; font-weight: bold;">%s: </span>%s</div>`,
		color, html.EscapeString(label), html.EscapeString(text))
}

func pairedAuthorLabel(chat *types.PairedChat, author string) string {
	switch author {
	case types.AuthorStudent1:
		return chat.Students[0].Character
	case types.AuthorStudent2:
		return chat.Students[1].Character
	default:
		return "TEACHER"
	}
}

func pairedAuthorColor(author string) string {
	switch author {
	case types.AuthorStudent1:
		return student1Color
	case types.AuthorStudent2:
		return student2Color
	default:
		return teacherColor
	}
}

func soloAuthorLabel(chat *types.SoloChat, author string) string {
	switch author {
	case types.AuthorStudent:
		return chat.Student.Character
	case types.AuthorChatbot:
		return "chatbot"
	default:
		return "TEACHER"
	}
}

func soloAuthorColor(author string) string {
	switch author {
	case types.AuthorStudent:
		return student1Color
	case types.AuthorChatbot:
		return student2Color
	default:
		return teacherColor
	}
}
