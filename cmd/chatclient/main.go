package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"projectchat/internal/logging"
	"projectchat/pkg/realtime"
	"projectchat/pkg/types"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

type options struct {
	apiURL   string
	token    string
	userID   string
	project  string
	history  int
	logLevel string
}

// parseOptions reads flags, falling back to PROJECTCHAT_* environment variables.
func parseOptions(args []string, stderr io.Writer) (*options, error) {
	v := viper.New()
	v.SetEnvPrefix("PROJECTCHAT")
	v.AutomaticEnv()
	v.SetDefault("api_url", "http://localhost:8080/api/v1")
	v.SetDefault("log_level", "warn")
	v.SetDefault("history", 50)

	opts := &options{}
	fs := flag.NewFlagSet("chatclient", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.apiURL, "api", v.GetString("api_url"), "REST API URL (env PROJECTCHAT_API_URL)")
	fs.StringVar(&opts.token, "token", v.GetString("token"), "bearer token (env PROJECTCHAT_TOKEN)")
	fs.StringVar(&opts.userID, "user", v.GetString("user"), "your user id (env PROJECTCHAT_USER)")
	fs.StringVar(&opts.project, "project", v.GetString("project"), "project to join (env PROJECTCHAT_PROJECT)")
	fs.IntVar(&opts.history, "history", v.GetInt("history"), "messages to load on join")
	fs.StringVar(&opts.logLevel, "log-level", v.GetString("log_level"), "client log level")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	switch {
	case opts.token == "":
		return nil, errors.New("a token is required (-token or PROJECTCHAT_TOKEN)")
	case opts.userID == "":
		return nil, errors.New("a user id is required (-user or PROJECTCHAT_USER)")
	case !types.IsValidProjectID(opts.project):
		return nil, fmt.Errorf("invalid project %q", opts.project)
	}
	return opts, nil
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	opts, err := parseOptions(args, stderr)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}

	logger, err := logging.NewWithWriter(opts.logLevel, "console", stderr)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}
	defer func() { _ = logger.Sync() }()

	out := &console{w: stdout}
	session, err := realtime.NewSession(realtime.SessionConfig{
		APIURL:       opts.apiURL,
		Token:        opts.token,
		UserID:       opts.userID,
		ProjectID:    opts.project,
		HistoryLimit: opts.history,
		System:       &terminalNotifier{out: out},
		Logger:       logger,
		Hooks: realtime.Hooks{
			OnStatus: func(s realtime.Status) { out.printf("* %s", s.Label()) },
			OnMessage: func(m types.Message) {
				out.printf("[%s] %s: %s", m.CreatedAt.Local().Format("15:04"), m.SenderName(), m.Content)
			},
			OnTyping: func(users []string) {
				if len(users) > 0 {
					out.printf("* %s typing...", strings.Join(users, ", "))
				}
			},
		},
	})
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}
	defer session.Close()

	ctx := context.Background()
	session.Mount(ctx)
	out.printf("* joined %s as %s, /help for commands", opts.project, opts.userID)

	scanner := bufio.NewScanner(stdin)
	for scanner.Scan() {
		line := scanner.Text()
		if quit := handleLine(ctx, session, out, logger, line); quit {
			break
		}
	}
	return 0
}

// handleLine runs one input line. It reports whether the client should exit.
func handleLine(ctx context.Context, session *realtime.Session, out *console, logger *zap.Logger, line string) bool {
	fields := strings.Fields(line)
	if len(fields) > 0 && strings.HasPrefix(fields[0], "/") {
		switch fields[0] {
		case "/quit", "/exit":
			return true
		case "/who":
			session.RequestRoster()
			out.printf("* online: %s", strings.Join(session.OnlineUsers(), ", "))
		case "/status":
			out.printf("* %s", session.Status().Label())
		case "/join":
			if len(fields) != 2 || !types.IsValidProjectID(fields[1]) {
				out.printf("* usage: /join <project>")
				return false
			}
			session.SwitchProject(ctx, fields[1])
			out.printf("* joined %s", fields[1])
		case "/help":
			out.printf("* /who  /status  /join <project>  /quit")
		default:
			out.printf("* unknown command %s", fields[0])
		}
		return false
	}

	session.Keystroke(line)
	if err := session.Submit(ctx); err != nil {
		if !errors.Is(err, types.ErrEmptyContent) {
			logger.Debug("send failed", zap.Error(err))
			out.printf("! not sent: %v", err)
		}
		session.SetDraft("")
	}
	return false
}

type console struct {
	mu sync.Mutex
	w  io.Writer
}

func (c *console) printf(format string, args ...interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.w, format+"\n", args...)
}

// terminalNotifier rings the bell for messages from others.
type terminalNotifier struct {
	out     *console
	mu      sync.Mutex
	granted bool
}

func (n *terminalNotifier) Permission() realtime.Permission {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.granted {
		return realtime.PermissionGranted
	}
	return realtime.PermissionDefault
}

func (n *terminalNotifier) RequestPermission() realtime.Permission {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.granted = true
	return realtime.PermissionGranted
}

func (n *terminalNotifier) Notify(title, body string) error {
	n.out.printf("\a! %s: %s", title, body)
	return nil
}
