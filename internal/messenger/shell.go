// internal/messenger/shell.go
// Line-oriented front end for a messaging session

package messenger

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/fisionet/messaging/internal/common/utils"
	"github.com/fisionet/messaging/internal/messaging"
)

// ErrQuit is returned by Execute for /quit.
var ErrQuit = errors.New("quit")

const helpText = `Commands:
  /list                 show conversations
  /open <user-id>       open (or start) the conversation with a user
  /close                close the open conversation
  /read                 mark the open conversation read
  /unread               show the unread total
  /status               show connection state
  /help                 show this text
  /quit                 sign out and exit
Anything else is sent to the open conversation.`

// Shell reads commands and renders session events.
type Shell struct {
	session *messaging.Session

	mu  sync.Mutex
	out io.Writer
}

func NewShell(session *messaging.Session, out io.Writer) *Shell {
	return &Shell{session: session, out: out}
}

// Watch prints pushes, connection changes and unread changes of bus.
func (s *Shell) Watch(bus *messaging.Bus) {
	bus.Frames.Subscribe(s.onFrame)
	bus.State.Subscribe(func(state messaging.State) {
		s.printf("* connection %s", state)
	})
	bus.Unread.Subscribe(func(n int64) {
		s.printf("* %d unread", n)
	})
}

// Run executes lines from in until EOF, /quit or ctx is done.
func (s *Shell) Run(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	errs := make(chan error, 1)

	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		errs <- scanner.Err()
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return <-errs
			}
			if err := s.Execute(ctx, line); err != nil {
				if errors.Is(err, ErrQuit) {
					return nil
				}
				s.printf("! %v", err)
			}
		}
	}
}

// Execute runs one command line.
func (s *Shell) Execute(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}

	if !strings.HasPrefix(line, "/") {
		return s.send(line)
	}

	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		return ErrQuit
	case "/help":
		s.printf("%s", helpText)
		return nil
	case "/list":
		return s.list()
	case "/open":
		if len(fields) < 2 {
			return fmt.Errorf("usage: /open <user-id>")
		}
		return s.open(ctx, fields[1])
	case "/close":
		s.session.Thread().Close()
		return nil
	case "/read":
		return s.read(ctx)
	case "/unread":
		s.printf("%d unread", s.session.Unread().Count())
		return nil
	case "/status":
		conn := s.session.Connection()
		s.printf("%s: %s (attempts %d)", s.session.Identity(), conn.State(), conn.Attempts())
		return nil
	default:
		return fmt.Errorf("unknown command %s, try /help", fields[0])
	}
}

func (s *Shell) list() error {
	convs := s.session.Directory().Conversations()
	if len(convs) == 0 {
		s.printf("no conversations")
		return nil
	}
	for _, c := range convs {
		id := c.ConversationID
		if c.IsPending() {
			id = "new"
		}
		line := fmt.Sprintf("[%s] %s <%s>", id, displayName(c), c.OtherUserID)
		if c.UnreadCount > 0 {
			line += fmt.Sprintf(" (%d unread)", c.UnreadCount)
		}
		if c.LastMessage != "" {
			line += ": " + c.LastMessage
		}
		s.printf("%s", line)
	}
	return nil
}

func (s *Shell) open(ctx context.Context, peerID string) error {
	conv, err := s.session.Directory().Start(ctx, peerID)
	if err != nil {
		return err
	}

	history, err := s.session.Thread().Open(ctx, conv)
	if err != nil {
		return err
	}

	s.printf("--- %s ---", displayName(conv))
	for _, m := range history {
		s.printMessage(m)
	}
	return nil
}

func (s *Shell) read(ctx context.Context) error {
	conv, ok := s.session.Thread().Current()
	if !ok {
		return messaging.ErrNoConversation
	}
	return s.session.Directory().MarkRead(ctx, conv.ConversationID)
}

func (s *Shell) send(content string) error {
	_, err := s.session.Thread().SendOptimistic(content)
	if utils.IsValidationError(err) {
		return fmt.Errorf("message not sent: %w", err)
	}
	return err
}

func (s *Shell) onFrame(msg messaging.ProtocolMessage) {
	if msg.Type != messaging.TypeNewMessage || msg.Message == nil {
		return
	}

	if conv, ok := s.session.Thread().Current(); ok && conv.ConversationID == msg.Message.ConversationID {
		s.printMessage(*msg.Message)
		return
	}
	s.printf("* new message from %s", msg.Message.SenderID)
}

func (s *Shell) printMessage(m messaging.Message) {
	who := m.SenderID
	if who == s.session.Identity() {
		who = "me"
	}
	s.printf("%s %s: %s", time.Unix(m.Timestamp, 0).Format("15:04"), who, m.Content)
}

func (s *Shell) printf(format string, args ...interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.out, format+"\n", args...)
}

func displayName(c messaging.Conversation) string {
	if strings.TrimSpace(c.OtherUserName) == "" {
		return c.OtherUserID
	}
	return c.OtherUserName
}
