package discord

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	service "github.com/okian/potally/internal/app"
	"github.com/okian/potally/internal/domain/model"
	"github.com/okian/potally/internal/domain/ranking"
	"github.com/okian/potally/pkg/logger"
	"github.com/okian/potally/pkg/metrics"
)

// Command result labels.
const (
	resultOK        = "ok"
	resultError     = "error"
	resultForbidden = "forbidden"
	resultBusy      = "busy"
	resultUnknown   = "unknown"
)

// command names derived from the token: "po", "pol", "poleaderboard", "poresync".
type commandSet struct {
	count       string
	board       string
	boardLong   string
	resyncAdmin string
}

func commandsFor(token string) commandSet {
	return commandSet{
		count:       token,
		board:       token + "l",
		boardLong:   token + "leaderboard",
		resyncAdmin: token + "resync",
	}
}

// parseCommand splits a command message into its name and arguments.
func parseCommand(content, prefix string) (string, []string) {
	fields := strings.Fields(strings.TrimPrefix(content, prefix))
	if len(fields) == 0 {
		return "", nil
	}
	return fields[0], fields[1:]
}

// parseLimit reads the optional leaderboard size; missing or invalid input yields def.
func parseLimit(args []string, def int) int {
	if len(args) == 0 {
		return ranking.ClampLimit(def)
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return ranking.ClampLimit(def)
	}
	return ranking.ClampLimit(n)
}

func (b *Bot) handleCommand(ctx context.Context, msg model.Message) {
	name, args := parseCommand(msg.Content, b.svc.CommandPrefix())
	set := commandsFor(b.svc.Token())

	var result string
	switch name {
	case set.count:
		result = b.cmdCount(ctx, msg)
	case set.board, set.boardLong:
		result = b.cmdLeaderboard(ctx, msg, args)
	case set.resyncAdmin:
		result = b.cmdResync(ctx, msg)
	default:
		metrics.RecordCommand("other", resultUnknown)
		return
	}
	metrics.RecordCommand(name, result)
}

func (b *Bot) cmdCount(ctx context.Context, msg model.Message) string {
	if len(msg.Mentions) > 0 {
		target := msg.Mentions[0]
		b.reply(ctx, b.format.UserCount(target.Username, b.svc.Count(ctx, target.ID)))
		return resultOK
	}
	b.reply(ctx, b.format.SelfCount(mention(msg.Author.ID), b.svc.Count(ctx, msg.Author.ID)))
	return resultOK
}

func (b *Bot) cmdLeaderboard(ctx context.Context, msg model.Message, args []string) string {
	limit := parseLimit(args, b.defaultLimit)
	res, err := b.svc.Leaderboard(ctx, limit, msg.Author.ID)
	if err != nil {
		b.logger.Error(ctx, "leaderboard failed", logger.Error(err))
		b.reply(ctx, "The leaderboard is not available right now.")
		return resultError
	}
	res = ranking.Resolve(ctx, res, b.directory)
	b.reply(ctx, b.format.Leaderboard(res))
	return resultOK
}

func (b *Bot) cmdResync(ctx context.Context, msg model.Message) string {
	if _, ok := b.admins[msg.Author.ID]; !ok {
		b.reply(ctx, "Only bot admins can run a resync.")
		return resultForbidden
	}
	res, err := b.svc.Resync(ctx, b.history)
	switch {
	case errors.Is(err, service.ErrResyncInProgress):
		b.reply(ctx, "A resync is already running.")
		return resultBusy
	case err != nil:
		b.logger.Error(ctx, "resync command failed", logger.String("run", res.ID), logger.Error(err))
		b.reply(ctx, "Resync failed; counts were left unchanged.")
		return resultError
	}
	b.reply(ctx, fmt.Sprintf("Resync complete: %d users, %d messages scanned.", res.Users, res.Scanned))
	return resultOK
}
