package discord

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/smartystreets/goconvey/convey"

	service "github.com/okian/potally/internal/app"
	"github.com/okian/potally/internal/domain/match"
	"github.com/okian/potally/internal/domain/model"
	"github.com/okian/potally/internal/domain/ranking"
	"github.com/okian/potally/internal/domain/resync"
	"github.com/okian/potally/pkg/logger"
)

func TestMain(m *testing.M) {
	_ = logger.Init()
	os.Exit(m.Run())
}

const testChannel = "chan-1"

type fakeSession struct {
	mu       sync.Mutex
	sent     []string
	history  []*discordgo.Message // newest first
	members  map[string]*discordgo.Member
	users    map[string]*discordgo.User
	channel  *discordgo.Channel
	pageErr  error
	handlers int
	opened   bool
	closed   bool
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		members: map[string]*discordgo.Member{},
		users:   map[string]*discordgo.User{},
		channel: &discordgo.Channel{ID: testChannel, GuildID: "guild-1"},
	}
}

func (f *fakeSession) ChannelMessages(_ string, limit int, beforeID, _, _ string, _ ...discordgo.RequestOption) ([]*discordgo.Message, error) {
	if f.pageErr != nil {
		return nil, f.pageErr
	}
	start := 0
	if beforeID != "" {
		start = len(f.history)
		for i, m := range f.history {
			if m.ID == beforeID {
				start = i + 1
				break
			}
		}
	}
	end := start + limit
	if end > len(f.history) {
		end = len(f.history)
	}
	return f.history[start:end], nil
}

func (f *fakeSession) GuildMember(_, userID string, _ ...discordgo.RequestOption) (*discordgo.Member, error) {
	if m, ok := f.members[userID]; ok {
		return m, nil
	}
	return nil, errors.New("404 unknown member")
}

func (f *fakeSession) User(userID string, _ ...discordgo.RequestOption) (*discordgo.User, error) {
	if u, ok := f.users[userID]; ok {
		return u, nil
	}
	return nil, errors.New("404 unknown user")
}

func (f *fakeSession) Open() error  { f.opened = true; return nil }
func (f *fakeSession) Close() error { f.closed = true; return nil }

func (f *fakeSession) AddHandler(interface{}) func() {
	f.mu.Lock()
	f.handlers++
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		f.handlers--
		f.mu.Unlock()
	}
}

func (f *fakeSession) ChannelMessageSend(_, content string, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, content)
	return &discordgo.Message{Content: content}, nil
}

func (f *fakeSession) Channel(channelID string, _ ...discordgo.RequestOption) (*discordgo.Channel, error) {
	if f.channel == nil || f.channel.ID != channelID {
		return nil, errors.New("404 unknown channel")
	}
	return f.channel, nil
}

func (f *fakeSession) replies() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

type fakeService struct {
	mu        sync.Mutex
	observed  []model.Message
	records   []model.CounterRecord
	selfID    string
	resyncs   int
	resyncErr error
	resyncRes service.RunResult
}

func (s *fakeService) Observe(_ context.Context, msg model.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observed = append(s.observed, msg)
	return true
}

func (s *fakeService) Count(_ context.Context, userID string) int64 {
	for _, r := range s.records {
		if r.UserID == userID {
			return r.Count
		}
	}
	return 0
}

func (s *fakeService) Leaderboard(_ context.Context, limit int, requester string) (ranking.Result, error) {
	return ranking.Rank(s.records, limit, requester), nil
}

func (s *fakeService) Resync(ctx context.Context, provider resync.HistoryProvider) (service.RunResult, error) {
	s.mu.Lock()
	s.resyncs++
	s.mu.Unlock()
	if s.resyncErr != nil {
		return service.RunResult{ID: "run"}, s.resyncErr
	}
	if s.resyncRes.ID != "" {
		return s.resyncRes, nil
	}
	res, err := resync.New(match.Policy{Matcher: match.MustNew("po"), CommandPrefix: "!", SelfID: s.selfID}).Rebuild(ctx, provider)
	if err != nil {
		return service.RunResult{}, err
	}
	s.records = res.Counts
	return service.RunResult{ID: "run", Users: len(res.Counts), Scanned: res.Scanned}, nil
}

func (s *fakeService) SetSelfID(id string)   { s.selfID = id }
func (s *fakeService) Token() string         { return "po" }
func (s *fakeService) CommandPrefix() string { return "!" }

func (s *fakeService) observedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.observed)
}

func newMessage(id, channel, author, content string) *discordgo.MessageCreate {
	return &discordgo.MessageCreate{Message: &discordgo.Message{
		ID:        id,
		ChannelID: channel,
		GuildID:   "guild-1",
		Content:   content,
		Author:    &discordgo.User{ID: author, Username: "user-" + author},
	}}
}

func TestBotIngestion(t *testing.T) {
	convey.Convey("Given a bot bound to one channel", t, func() {
		sess := newFakeSession()
		svc := &fakeService{}
		bot, err := New(sess, svc, testChannel)
		convey.So(err, convey.ShouldBeNil)
		convey.So(bot.Open(context.Background()), convey.ShouldBeNil)
		convey.So(sess.opened, convey.ShouldBeTrue)
		convey.So(sess.handlers, convey.ShouldEqual, 2)

		convey.Convey("Messages in other channels are ignored", func() {
			bot.onMessageCreate(nil, newMessage("1", "elsewhere", "u1", "po"))
			convey.So(svc.observedCount(), convey.ShouldEqual, 0)
		})

		convey.Convey("Plain messages are observed with their author", func() {
			bot.onMessageCreate(nil, newMessage("1", testChannel, "u1", "po box"))
			convey.So(svc.observedCount(), convey.ShouldEqual, 1)
			convey.So(svc.observed[0].Author.ID, convey.ShouldEqual, "u1")
			convey.So(svc.observed[0].Content, convey.ShouldEqual, "po box")
			convey.So(svc.observed[0].ID, convey.ShouldEqual, "1")
		})

		convey.Convey("The bot's own messages are ignored once it is ready", func() {
			sess.channel = nil
			bot.onReady(nil, &discordgo.Ready{User: &discordgo.User{ID: "bot", Username: "potally"}})
			convey.So(svc.selfID, convey.ShouldEqual, "bot")

			bot.onMessageCreate(nil, newMessage("1", testChannel, "bot", "po"))
			convey.So(svc.observedCount(), convey.ShouldEqual, 0)
		})

		convey.Convey("Command messages are never observed", func() {
			bot.onMessageCreate(nil, newMessage("1", testChannel, "u1", "!hello po"))
			bot.onMessageCreate(nil, newMessage("2", testChannel, "u1", "!po"))
			convey.So(svc.observedCount(), convey.ShouldEqual, 0)
			convey.So(sess.replies(), convey.ShouldHaveLength, 1)
		})

		convey.Convey("Close removes handlers and closes the session", func() {
			convey.So(bot.Close(), convey.ShouldBeNil)
			convey.So(sess.handlers, convey.ShouldEqual, 0)
			convey.So(sess.closed, convey.ShouldBeTrue)
		})
	})
}

func TestBotCommands(t *testing.T) {
	convey.Convey("Given a bot with counts {111:2, 222:7}", t, func() {
		sess := newFakeSession()
		sess.members["111"] = &discordgo.Member{User: &discordgo.User{ID: "111", Username: "alice"}}
		sess.members["222"] = &discordgo.Member{User: &discordgo.User{ID: "222", Username: "bob"}}
		svc := &fakeService{records: []model.CounterRecord{{UserID: "111", Count: 2}, {UserID: "222", Count: 7}}}
		bot, err := New(sess, svc, testChannel, WithAdmins("111"))
		convey.So(err, convey.ShouldBeNil)
		bot.Directory().SetGuild("guild-1")

		convey.Convey("!po replies with the caller's count", func() {
			bot.onMessageCreate(nil, newMessage("1", testChannel, "111", "!po"))
			convey.So(sess.replies(), convey.ShouldResemble, []string{"<@111>, your current po count is 2."})
		})

		convey.Convey("!po @user replies with the mentioned user's count", func() {
			m := newMessage("1", testChannel, "111", "!po <@222>")
			m.Mentions = []*discordgo.User{{ID: "222", Username: "bob"}}
			bot.onMessageCreate(nil, m)
			convey.So(sess.replies(), convey.ShouldResemble, []string{"bob has a po count of 7."})
		})

		convey.Convey("!pol renders the leaderboard with the requester trailer", func() {
			bot.onMessageCreate(nil, newMessage("1", testChannel, "333", "!pol"))
			convey.So(sess.replies(), convey.ShouldResemble, []string{
				"**Po Leaderboard (Top 3)**\n" +
					"#1: bob with 7 po(s)\n" +
					"#2: alice with 2 po(s)\n" +
					"\nYou are not on the leaderboard yet. You have 0 po(s).",
			})
		})

		convey.Convey("!poleaderboard N clamps and ranks the requester", func() {
			bot.onMessageCreate(nil, newMessage("1", testChannel, "111", "!poleaderboard 0"))
			convey.So(sess.replies(), convey.ShouldResemble, []string{
				"**Po Leaderboard (Top 1)**\n" +
					"#1: bob with 7 po(s)\n" +
					"\nYour rank: #2 with 2 po(s).",
			})
		})

		convey.Convey("Unresolvable users keep their place", func() {
			delete(sess.members, "222")
			bot.onMessageCreate(nil, newMessage("1", testChannel, "111", "!pol 2"))
			replies := sess.replies()
			convey.So(replies, convey.ShouldHaveLength, 1)
			convey.So(replies[0], convey.ShouldContainSubstring, "#1: Unknown User (222) with 7 po(s)")
		})

		convey.Convey("!poresync is refused for non-admins", func() {
			bot.onMessageCreate(nil, newMessage("1", testChannel, "222", "!poresync"))
			convey.So(svc.resyncs, convey.ShouldEqual, 0)
			convey.So(sess.replies(), convey.ShouldResemble, []string{"Only bot admins can run a resync."})
		})

		convey.Convey("!poresync reports the result to admins", func() {
			svc.resyncRes = service.RunResult{ID: "run-1", Users: 4, Scanned: 120}
			bot.onMessageCreate(nil, newMessage("1", testChannel, "111", "!poresync"))
			convey.So(svc.resyncs, convey.ShouldEqual, 1)
			convey.So(sess.replies(), convey.ShouldResemble, []string{"Resync complete: 4 users, 120 messages scanned."})
		})

		convey.Convey("!poresync reports a running resync", func() {
			svc.resyncErr = fmt.Errorf("wrapped: %w", service.ErrResyncInProgress)
			bot.onMessageCreate(nil, newMessage("1", testChannel, "111", "!poresync"))
			convey.So(sess.replies(), convey.ShouldResemble, []string{"A resync is already running."})
		})

		convey.Convey("!poresync reports failures", func() {
			svc.resyncErr = errors.New("history unavailable")
			bot.onMessageCreate(nil, newMessage("1", testChannel, "111", "!poresync"))
			convey.So(sess.replies(), convey.ShouldResemble, []string{"Resync failed; counts were left unchanged."})
		})

		convey.Convey("Unknown commands get no reply", func() {
			bot.onMessageCreate(nil, newMessage("1", testChannel, "111", "!help"))
			bot.onMessageCreate(nil, newMessage("2", testChannel, "111", "!"))
			convey.So(sess.replies(), convey.ShouldBeEmpty)
		})
	})
}

func TestBotStartupResync(t *testing.T) {
	convey.Convey("Given a channel history and resync on startup", t, func() {
		sess := newFakeSession()
		for i := 10; i >= 1; i-- {
			author := "a"
			if i%2 == 0 {
				author = "b"
			}
			sess.history = append(sess.history, &discordgo.Message{
				ID: fmt.Sprintf("%03d", i), ChannelID: testChannel,
				Author: &discordgo.User{ID: author}, Content: "po",
			})
		}
		sess.history = append([]*discordgo.Message{
			{ID: "100", ChannelID: testChannel, Author: &discordgo.User{ID: "bot"}, Content: "po"},
			{ID: "099", ChannelID: testChannel, Author: &discordgo.User{ID: "a"}, Content: "!po"},
		}, sess.history...)

		svc := &fakeService{}
		bot, err := New(sess, svc, testChannel, WithResyncOnStartup(true))
		convey.So(err, convey.ShouldBeNil)
		convey.So(bot.Open(context.Background()), convey.ShouldBeNil)

		convey.Convey("When the session becomes ready", func() {
			bot.onReady(nil, &discordgo.Ready{User: &discordgo.User{ID: "bot", Username: "potally"}})
			convey.So(bot.Close(), convey.ShouldBeNil)

			convey.Convey("Then the guild is learned and counts are rebuilt", func() {
				convey.So(bot.Directory().Guild(), convey.ShouldEqual, "guild-1")
				convey.So(svc.resyncs, convey.ShouldEqual, 1)
				convey.So(svc.records, convey.ShouldResemble, []model.CounterRecord{
					{UserID: "b", Count: 5},
					{UserID: "a", Count: 5},
				})
			})
		})

		convey.Convey("When the target channel cannot be found", func() {
			sess.channel = nil
			bot.onReady(nil, &discordgo.Ready{User: &discordgo.User{ID: "bot"}})
			convey.So(bot.Close(), convey.ShouldBeNil)

			convey.Convey("Then no resync runs", func() {
				convey.So(svc.resyncs, convey.ShouldEqual, 0)
				convey.So(bot.Directory().Guild(), convey.ShouldEqual, "")
			})

			convey.Convey("Then the lookup reports the missing channel", func() {
				_, err := bot.resolveGuild(context.Background())
				convey.So(errors.Is(err, ErrChannelNotFound), convey.ShouldBeTrue)
				convey.So(err.Error(), convey.ShouldContainSubstring, testChannel)
			})
		})
	})
}

func TestNewValidation(t *testing.T) {
	convey.Convey("New requires a channel", t, func() {
		_, err := New(newFakeSession(), &fakeService{}, "")
		convey.So(errors.Is(err, ErrNoChannel), convey.ShouldBeTrue)
	})
	convey.Convey("NewSession requires a token", t, func() {
		_, err := NewSession("")
		convey.So(errors.Is(err, ErrNoToken), convey.ShouldBeTrue)
	})
	convey.Convey("NewSession sets the intents", t, func() {
		s, err := NewSession("abc")
		convey.So(err, convey.ShouldBeNil)
		convey.So(s.Identify.Intents, convey.ShouldEqual, Intents)
	})
}

func TestParseLimit(t *testing.T) {
	cases := []struct {
		args []string
		want int
	}{
		{nil, 3},
		{[]string{"5"}, 5},
		{[]string{"0"}, 1},
		{[]string{"-4"}, 1},
		{[]string{"1000"}, 25},
		{[]string{"ten"}, 3},
	}
	for _, c := range cases {
		if got := parseLimit(c.args, ranking.DefaultLimit); got != c.want {
			t.Errorf("parseLimit(%v) = %d, want %d", c.args, got, c.want)
		}
	}
}
