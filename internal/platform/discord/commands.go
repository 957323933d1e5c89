package discord

import (
	"fmt"

	"github.com/bwmarrin/discordgo"

	"guildbot/internal/platform"
	"guildbot/internal/router"
	logx "guildbot/pkg/logx"
)

func platformGuild(ic *discordgo.InteractionCreate) platform.GuildID {
	return platform.GuildID(ic.GuildID)
}

func platformChannel(ic *discordgo.InteractionCreate) platform.ChannelID {
	return platform.ChannelID(ic.ChannelID)
}

func platformUser(ic *discordgo.InteractionCreate) platform.UserID {
	if ic.Member != nil && ic.Member.User != nil {
		return platform.UserID(ic.Member.User.ID)
	}
	if ic.User != nil {
		return platform.UserID(ic.User.ID)
	}
	return ""
}

var eventKindChoices = []*discordgo.ApplicationCommandOptionChoice{
	{Name: "startup", Value: "startup"},
	{Name: "error", Value: "error"},
	{Name: "contest-resolved", Value: "contest-resolved"},
	{Name: "lottery-rotated", Value: "lottery-rotated"},
	{Name: "stream-started", Value: "stream-started"},
}

// commandDefs is the slash-command surface registered on startup.
var commandDefs = []*discordgo.ApplicationCommand{
	{
		Name:        "contest",
		Description: "Meme of the week",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "set-channel",
				Description: "Run the contest in a channel (default: here)",
				Options: []*discordgo.ApplicationCommandOption{
					{Type: discordgo.ApplicationCommandOptionChannel, Name: "channel", Description: "Contest channel"},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "unset",
				Description: "Stop the contest",
			},
		},
	},
	{
		Name:        "nicknames",
		Description: "Nickname lottery",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "edit",
				Description: "Edit the nickname pool",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "channel",
				Description: "Set the announcement channel",
				Options: []*discordgo.ApplicationCommandOption{
					{Type: discordgo.ApplicationCommandOptionChannel, Name: "channel", Description: "Announcement channel"},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "title",
				Description: "Override the announcement title",
				Options: []*discordgo.ApplicationCommandOption{
					{Type: discordgo.ApplicationCommandOptionString, Name: "title", Description: "Title text", Required: true},
				},
			},
		},
	},
	{
		Name:        "events",
		Description: "Event subscriptions",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "subscribe",
				Description: "Subscribe to an event kind",
				Options: []*discordgo.ApplicationCommandOption{
					{Type: discordgo.ApplicationCommandOptionString, Name: "kind", Description: "Event kind", Required: true, Choices: eventKindChoices},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "unsubscribe",
				Description: "Unsubscribe from an event kind",
				Options: []*discordgo.ApplicationCommandOption{
					{Type: discordgo.ApplicationCommandOptionString, Name: "kind", Description: "Event kind", Required: true, Choices: eventKindChoices},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "list",
				Description: "List your subscriptions",
			},
		},
	},
	{
		Name:        "timeouts",
		Description: "Timeout statistics",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "check",
				Description: "Check a member's timeout record",
				Options: []*discordgo.ApplicationCommandOption{
					{Type: discordgo.ApplicationCommandOptionUser, Name: "user", Description: "Member (default: you)"},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "announce",
				Description: "Configure timeout announcements",
				Options: []*discordgo.ApplicationCommandOption{
					{Type: discordgo.ApplicationCommandOptionChannel, Name: "channel", Description: "Announcement channel"},
					{Type: discordgo.ApplicationCommandOptionString, Name: "prefix", Description: "Message prefix"},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "stop",
				Description: "Stop timeout announcements",
			},
		},
	},
	{
		Name:        "scoreboard",
		Description: "Named scoreboards",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "create",
				Description: "Create a scoreboard",
				Options: []*discordgo.ApplicationCommandOption{
					{Type: discordgo.ApplicationCommandOptionString, Name: "name", Description: "Scoreboard name", Required: true},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "delete",
				Description: "Delete a scoreboard",
				Options: []*discordgo.ApplicationCommandOption{
					{Type: discordgo.ApplicationCommandOptionString, Name: "name", Description: "Scoreboard name", Required: true},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "list",
				Description: "List scoreboards",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "set",
				Description: "Set your own score",
				Options: []*discordgo.ApplicationCommandOption{
					{Type: discordgo.ApplicationCommandOptionString, Name: "name", Description: "Scoreboard name", Required: true},
					{Type: discordgo.ApplicationCommandOptionString, Name: "score", Description: "Score", Required: true},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "override",
				Description: "Override a member's score (manager only)",
				Options: []*discordgo.ApplicationCommandOption{
					{Type: discordgo.ApplicationCommandOptionString, Name: "name", Description: "Scoreboard name", Required: true},
					{Type: discordgo.ApplicationCommandOptionUser, Name: "user", Description: "Member", Required: true},
					{Type: discordgo.ApplicationCommandOptionString, Name: "score", Description: "Score", Required: true},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "view",
				Description: "Show the top 10",
				Options: []*discordgo.ApplicationCommandOption{
					{Type: discordgo.ApplicationCommandOptionString, Name: "name", Description: "Scoreboard name", Required: true},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "rank",
				Description: "Show a member's rank",
				Options: []*discordgo.ApplicationCommandOption{
					{Type: discordgo.ApplicationCommandOptionString, Name: "name", Description: "Scoreboard name", Required: true},
					{Type: discordgo.ApplicationCommandOptionUser, Name: "user", Description: "Member (default: you)"},
				},
			},
		},
	},
	{
		Name:        "responses",
		Description: "Text responses",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "set",
				Description: "Set a trigger (empty response removes it)",
				Options: []*discordgo.ApplicationCommandOption{
					{Type: discordgo.ApplicationCommandOptionString, Name: "trigger", Description: "Trigger phrase", Required: true},
					{Type: discordgo.ApplicationCommandOptionString, Name: "response", Description: "Response text"},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "list",
				Description: "List triggers",
			},
		},
	},
	{
		Name:        "status-meaning",
		Description: "What the bot's status means",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "view",
				Description: "Show the status meaning",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "set",
				Description: "Set the status meaning (manager only)",
				Options: []*discordgo.ApplicationCommandOption{
					{Type: discordgo.ApplicationCommandOptionString, Name: "text", Description: "Meaning text", Required: true},
				},
			},
		},
	},
}

// RegisterCommands bulk-overwrites the global slash-command set.
func (a *Adapter) RegisterCommands() error {
	if a.session.State.User == nil {
		return fmt.Errorf("register commands: session not ready")
	}
	appID := a.session.State.User.ID
	_, err := a.session.ApplicationCommandBulkOverwrite(appID, "", commandDefs)
	if err != nil {
		return fmt.Errorf("register commands: %w", err)
	}
	a.log.Info("slash commands registered", logx.Int("count", len(commandDefs)))
	return nil
}

// ToCommand converts an application-command interaction into the router's
// parsed form. Option values are stringified; channel and user options carry
// their snowflake ids.
func ToCommand(ic *discordgo.InteractionCreate) router.Command {
	data := ic.ApplicationCommandData()
	cmd := router.Command{
		InteractionID: ic.ID,
		Guild:         platformGuild(ic),
		Channel:       platformChannel(ic),
		User:          platformUser(ic),
		Name:          data.Name,
		Options:       map[string]string{},
	}
	opts := data.Options
	if len(opts) == 1 && opts[0].Type == discordgo.ApplicationCommandOptionSubCommand {
		cmd.Sub = opts[0].Name
		opts = opts[0].Options
	}
	for _, o := range opts {
		if o == nil {
			continue
		}
		switch o.Type {
		case discordgo.ApplicationCommandOptionString:
			cmd.Options[o.Name] = o.StringValue()
		case discordgo.ApplicationCommandOptionInteger:
			cmd.Options[o.Name] = fmt.Sprintf("%d", o.IntValue())
		case discordgo.ApplicationCommandOptionBoolean:
			cmd.Options[o.Name] = fmt.Sprintf("%t", o.BoolValue())
		case discordgo.ApplicationCommandOptionChannel:
			cmd.Options[o.Name] = fmt.Sprint(o.Value)
		case discordgo.ApplicationCommandOptionUser:
			cmd.Options[o.Name] = fmt.Sprint(o.Value)
		default:
			cmd.Options[o.Name] = fmt.Sprint(o.Value)
		}
	}
	return cmd
}
