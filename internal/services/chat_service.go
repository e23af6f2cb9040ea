package services

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Reply is the outcome of one inbound chat message
type Reply struct {
	Success bool
	Text    string
	Command Command
	// ErrorCode is set when the command failed; it is for logs and test-mode debug only
	ErrorCode ErrorCode
}

// ChatService turns inbound chat messages into reply texts
type ChatService struct {
	join          *JoinService
	store         DealStore
	replies       *Replies
	channelPrefix string
	listLimit     int
	logger        logrus.FieldLogger
}

func NewChatService(join *JoinService, store DealStore, replies *Replies, channelPrefix string, listLimit int, logger logrus.FieldLogger) *ChatService {
	if listLimit <= 0 {
		listLimit = 5
	}
	return &ChatService{
		join:          join,
		store:         store,
		replies:       replies,
		channelPrefix: channelPrefix,
		listLimit:     listLimit,
		logger:        logger,
	}
}

// Handle parses and executes one message. It never fails: every error becomes a reply text.
func (c *ChatService) Handle(ctx context.Context, body, from string) (reply Reply) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.WithFields(logrus.Fields{FieldEvent: "chat.command", FieldActor: from, FieldOutcome: "panic"}).
				Error(fmt.Sprintf("recovered from panic: %v", r))
			reply = Reply{Text: c.replies.CommandFailed(), Command: reply.Command, ErrorCode: CodeStoreUnavailable}
		}
	}()

	cmd, err := ParseCommand(body, from, c.channelPrefix)
	if err != nil {
		return Reply{Text: c.replies.CommandFailed(), ErrorCode: CodeOf(err)}
	}
	reply.Command = cmd

	switch cmd.Kind {
	case CommandHelp:
		reply.Success, reply.Text = true, c.replies.Help()
	case CommandListDeals:
		reply = c.listDeals(ctx, cmd)
	case CommandJoin:
		reply = c.joinDeal(ctx, cmd)
	case CommandMyDeals:
		reply = c.myDeals(ctx, cmd)
	default:
		reply.Success, reply.Text = true, c.replies.Unknown()
	}

	outcome := "ok"
	if !reply.Success {
		outcome = string(reply.ErrorCode)
	}
	c.logger.WithFields(logrus.Fields{
		FieldEvent:   "chat.command",
		FieldActor:   cmd.ActorPhone,
		FieldOutcome: outcome,
		"command":    string(cmd.Kind),
	}).Info("chat command handled")
	return reply
}

func (c *ChatService) listDeals(ctx context.Context, cmd Command) Reply {
	deals, err := c.store.ListActiveDeals(ctx, c.listLimit)
	if err != nil {
		c.logger.WithFields(logrus.Fields{FieldEvent: "chat.list_deals", FieldActor: cmd.ActorPhone}).
			WithError(err).Error("failed to fetch active deals")
		return Reply{Text: c.replies.DealListFailed(), Command: cmd, ErrorCode: CodeStoreUnavailable}
	}
	return Reply{Success: true, Text: c.replies.DealList(deals), Command: cmd}
}

func (c *ChatService) joinDeal(ctx context.Context, cmd Command) Reply {
	if cmd.Argument == "" {
		return Reply{Text: c.replies.JoinUsage(), Command: cmd, ErrorCode: CodeInvalidInput}
	}
	res, err := c.join.Join(ctx, cmd.Argument, cmd.ActorPhone)
	if err != nil {
		return Reply{Text: c.replies.JoinFailed(err), Command: cmd, ErrorCode: CodeOf(err)}
	}
	return Reply{Success: true, Text: c.replies.Joined(res), Command: cmd}
}

func (c *ChatService) myDeals(ctx context.Context, cmd Command) Reply {
	participations, err := c.store.ListParticipationsByPhone(ctx, cmd.ActorPhone)
	if err != nil {
		c.logger.WithFields(logrus.Fields{FieldEvent: "chat.my_deals", FieldActor: cmd.ActorPhone}).
			WithError(err).Error("failed to fetch participations")
		return Reply{Text: c.replies.MyDealsFailed(), Command: cmd, ErrorCode: CodeStoreUnavailable}
	}
	return Reply{Success: true, Text: c.replies.MyDeals(participations), Command: cmd}
}
