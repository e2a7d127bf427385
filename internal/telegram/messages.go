package telegram

import (
	"fmt"
	"html"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/user/gitlabbot/internal/config"
	"github.com/user/gitlabbot/internal/render"
)

// Callback data prefixes. The payload after the prefix is a source name;
// verbosity choices carry the level first so names may contain colons.
const (
	callbackAdd          = "add"
	callbackRemove       = "rm"
	callbackVerbosity    = "verb"
	callbackVerbositySet = "verbset"
)

// Replies sent by the command flow.
const (
	textWelcome          = "Hi. I'm a simple bot triggered by GitLab webhooks."
	textAlreadyVerified  = "Since your chat is already verified, send /help to see the available commands."
	textNowVerified      = "Your chat is now verified, send /help to see the available commands."
	textAskPassphrase    = "First things first: you need to verify this chat. Just send me the passphrase."
	textPassphraseOK     = "Thank you, your chat is now verified. Send /help to see the available commands."
	textPassphraseBad    = "The passphrase is incorrect. Still waiting for verification."
	textNotVerified      = "This chat is not verified, start with the command /start."
	textChooseAdd        = "Choose the project you want to add."
	textNothingToAdd     = "No project to add."
	textAdded            = "The project was successfully added."
	textAlreadyAdded     = "Project was already there. Changing nothing."
	textChooseRemove     = "Choose the project you want to remove."
	textNothingToRemove  = "No project to remove."
	textRemoved          = "The project was successfully removed."
	textNotAdded         = "Project was not there. Changing nothing."
	textChooseVerbosity  = "Choose the project from which you want to change verbosity."
	textNoProjects       = "No project configured on this chat."
	textVerbosityChanged = "The verbosity of the project has been changed."
	textUnknownProject   = "This project is no longer configured."
	textUnknownCommand   = "Unknown command. Send /help to see the available commands."
)

const helpText = `You can use the following commands:

/listProjects : list tracked projects in this chat
/addProject : add a project in this chat
/removeProject : remove a project from this chat
/changeVerbosity : change the level of information of a chat
/help : display this message`

// projectKeyboard builds one button per source, each carrying prefix:name.
func projectKeyboard(prefix string, sources []config.Source) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(sources))
	for _, s := range sources {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(s.Name, prefix+":"+s.Name),
		))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

// verbosityKeyboard offers every level for the named source.
func verbosityKeyboard(name string) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(render.Levels))
	for _, v := range render.Levels {
		label := fmt.Sprintf("%d: %s", v, v.Description())
		data := fmt.Sprintf("%s:%d:%s", callbackVerbositySet, v, name)
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData(label, data)))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

// verbosityText lists the levels above the verbosity keyboard.
func verbosityText() string {
	var b strings.Builder
	b.WriteString("Verbosities:\n")
	for _, v := range render.Levels {
		fmt.Fprintf(&b, "- %d : %s\n", v, v.Description())
	}
	b.WriteString("\nChoose the new verbosity.")
	return b.String()
}

// subscribedProject is a line of /listProjects.
type subscribedProject struct {
	Name      string
	Verbosity render.Verbosity
}

// projectList renders /listProjects in HTML.
func projectList(projects []subscribedProject) string {
	var b strings.Builder
	b.WriteString("Projects:\n")
	if len(projects) == 0 {
		b.WriteString("There is no project")
		return b.String()
	}
	for i, p := range projects {
		fmt.Fprintf(&b, "%d - <b>%s</b> (Verbosity: %d)\n", i+1, html.EscapeString(p.Name), p.Verbosity)
	}
	return b.String()
}

// parseCallback splits callback data into its prefix, optional level and
// source name.
func parseCallback(data string) (prefix string, level int, name string, ok bool) {
	prefix, rest, found := strings.Cut(data, ":")
	if !found || rest == "" {
		return "", 0, "", false
	}
	if prefix != callbackVerbositySet {
		return prefix, 0, rest, true
	}

	raw, name, found := strings.Cut(rest, ":")
	if !found || name == "" {
		return "", 0, "", false
	}
	level, err := strconv.Atoi(raw)
	if err != nil {
		return "", 0, "", false
	}
	return prefix, level, name, true
}
