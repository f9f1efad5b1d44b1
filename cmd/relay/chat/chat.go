// Package chatcmder provides the chat command for interactive chat through a
// running relay.
package chatcmder

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/papercomputeco/relay/pkg/cliui"
	"github.com/papercomputeco/relay/pkg/config"
	"github.com/papercomputeco/relay/pkg/dotdir"
	"github.com/papercomputeco/relay/pkg/llm"
	"github.com/papercomputeco/relay/pkg/logger"
	"github.com/papercomputeco/relay/pkg/sse"
	"github.com/papercomputeco/relay/pkg/utils"
	"github.com/papercomputeco/relay/proxy"
)

// responseTimeout bounds a whole streamed response. LLM responses can be slow.
const responseTimeout = 5 * time.Minute

type chatCommander struct {
	proxyTarget string
	prefix      string
	model       string
	resume      bool
	debug       bool
	configDir   string

	in  io.Reader
	out io.Writer

	// interactive prints prompts and banners; off when stdin is piped.
	interactive bool

	client *http.Client
	ddm    *dotdir.Manager
	viper  *viper.Viper
	logger *slog.Logger
}

var chatFlags = []string{
	config.FlagProxyTarget,
	config.FlagPrefix,
	config.FlagClientModel,
}

const chatLongDesc string = `Start an interactive chat session through a running relay.

Messages are sent to <proxy-target><prefix>/chat/completions as streamed
requests and the reply is printed as it arrives. --prefix must match the one
the relay serves with. The conversation is saved to
.relay/chat.json after every reply; --resume continues the saved one.

Type /reset to start over or /exit (or Ctrl+D) to quit.

Examples:
  relay chat
  relay chat --model gpt-4o --proxy-target http://localhost:4000
  relay chat --resume`

const chatShortDesc string = "Interactive chat through a running relay"

func NewChatCmd() *cobra.Command {
	cmder := &chatCommander{}

	cmd := &cobra.Command{
		Use:   "chat",
		Short: chatShortDesc,
		Long:  chatLongDesc,
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			cmder.configDir, _ = cmd.Flags().GetString("config-dir")

			v, err := config.InitViper(cmder.configDir)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			config.BindRegisteredFlags(v, cmd, config.Flags, chatFlags)
			cmder.viper = v
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cmder.debug, err = cmd.Flags().GetBool("debug")
			if err != nil {
				return fmt.Errorf("could not get debug flag: %w", err)
			}

			cmder.proxyTarget = cmder.viper.GetString("client.proxy_target")
			cmder.prefix = cmder.viper.GetString("proxy.prefix")
			cmder.model = cmder.viper.GetString("client.model")
			cmder.in = cmd.InOrStdin()
			cmder.out = cmd.OutOrStdout()
			cmder.interactive = isTerminal(cmder.in)
			cmder.logger = logger.New(logger.WithDebug(cmder.debug), logger.WithWriter(cmd.ErrOrStderr()))

			return cmder.run(cmd.Context())
		},
	}

	config.AddStringFlag(cmd, config.Flags, config.FlagProxyTarget, &cmder.proxyTarget)
	config.AddStringFlag(cmd, config.Flags, config.FlagPrefix, &cmder.prefix)
	config.AddStringFlag(cmd, config.Flags, config.FlagClientModel, &cmder.model)
	cmd.Flags().BoolVarP(&cmder.resume, "resume", "r", false, "Continue the saved conversation")

	return cmd
}

func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func (c *chatCommander) run(ctx context.Context) error {
	if c.client == nil {
		c.client = &http.Client{Timeout: responseTimeout}
	}
	if c.ddm == nil {
		c.ddm = dotdir.NewManager()
	}

	var messages []llm.ChatMessage
	if c.resume {
		transcript, err := c.ddm.LoadTranscript(c.configDir)
		if err != nil {
			return fmt.Errorf("loading chat transcript: %w", err)
		}
		if transcript != nil {
			for _, msg := range transcript.Messages {
				messages = append(messages, llm.ChatMessage{Role: msg.Role, Content: msg.Content})
			}
		}
	}

	c.banner(len(messages))

	scanner := bufio.NewScanner(c.in)
	for {
		c.prompt(cliui.UserPrompt)
		if !scanner.Scan() {
			break
		}

		input := strings.TrimSpace(scanner.Text())
		switch input {
		case "":
			continue
		case "/exit":
			c.println()
			return nil
		case "/reset":
			messages = nil
			if err := c.ddm.ClearTranscript(c.configDir); err != nil {
				return err
			}
			c.printf("  %s New conversation\n\n", cliui.DimStyle.Render("●"))
			continue
		}

		messages = append(messages, llm.ChatMessage{Role: llm.RoleUser, Content: input})

		reply, err := c.sendAndStream(ctx, messages)
		if err != nil {
			fmt.Fprintf(c.out, "  %s %v\n", cliui.FailMark, err)
			// Drop the failed message so it can be retried.
			messages = messages[:len(messages)-1]
			continue
		}

		messages = append(messages, llm.ChatMessage{Role: llm.RoleAssistant, Content: reply})
		if err := c.save(messages); err != nil {
			return err
		}

		fmt.Fprintln(c.out)
		c.println()
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading input: %w", err)
	}

	c.println()
	return nil
}

func (c *chatCommander) banner(resumed int) {
	if !c.interactive {
		return
	}

	fmt.Fprintln(c.out)
	if resumed > 0 {
		c.printf("  %s Resuming conversation %s\n",
			cliui.SuccessMark,
			cliui.DimStyle.Render(fmt.Sprintf("(%d messages)", resumed)),
		)
	} else {
		c.printf("  %s New conversation\n", cliui.DimStyle.Render("●"))
	}

	model := c.model
	if model == "" {
		model = "relay default"
	}
	c.printf("  %s %s\n", cliui.KeyStyle.Render("Relay:"), cliui.ValueStyle.Render(c.proxyTarget))
	c.printf("  %s %s\n\n", cliui.KeyStyle.Render("Model:"), cliui.NameStyle.Render(model))
	c.printf("  %s\n\n", cliui.DimStyle.Render("Type your message and press Enter. /reset to start over, /exit or Ctrl+D to quit."))
}

// prompt, printf and println only write in interactive sessions.
func (c *chatCommander) prompt(p string) {
	if c.interactive {
		fmt.Fprint(c.out, p)
	}
}

func (c *chatCommander) printf(format string, args ...any) {
	if c.interactive {
		fmt.Fprintf(c.out, format, args...)
	}
}

func (c *chatCommander) println() {
	if c.interactive {
		fmt.Fprintln(c.out)
	}
}

func (c *chatCommander) save(messages []llm.ChatMessage) error {
	transcript := &dotdir.Transcript{
		Model:     c.model,
		UpdatedAt: time.Now().UTC(),
		Messages:  make([]dotdir.TranscriptMessage, 0, len(messages)),
	}
	for _, msg := range messages {
		transcript.Messages = append(transcript.Messages, dotdir.TranscriptMessage{Role: msg.Role, Content: msg.Content})
	}

	if err := c.ddm.SaveTranscript(transcript, c.configDir); err != nil {
		return fmt.Errorf("saving chat transcript: %w", err)
	}
	return nil
}

// sendAndStream posts the conversation to the relay and writes the reply to
// c.out as it streams in. Returns the full reply text.
func (c *chatCommander) sendAndStream(ctx context.Context, messages []llm.ChatMessage) (string, error) {
	stream := true
	body, err := json.Marshal(llm.ChatRequest{
		Model:    c.model,
		Messages: messages,
		Stream:   &stream,
	})
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	c.logger.Debug("sending chat request",
		"proxy_target", c.proxyTarget,
		"model", c.model,
		"message_count", len(messages),
	)

	url := strings.TrimSuffix(c.proxyTarget, "/") + c.prefix + proxy.DefaultInboundPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("sending request to relay: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("relay returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	c.prompt(cliui.AssistantPrompt)

	var reply strings.Builder
	events := sse.NewReader(resp.Body)
	for {
		ev, err := events.Next()
		if err != nil {
			return reply.String(), fmt.Errorf("reading stream: %w", err)
		}
		if ev == nil || ev.DataIs(llm.StreamDone) {
			break
		}
		if ev.Data == nil {
			continue
		}

		var chunk llm.StreamChunk
		if err := json.Unmarshal([]byte(*ev.Data), &chunk); err != nil {
			c.logger.Debug("skipping unparseable stream chunk",
				"error", err,
				"data", utils.Truncate(*ev.Data, 80),
			)
			continue
		}

		for _, choice := range chunk.Choices {
			if choice.Delta.Content == nil {
				continue
			}
			fmt.Fprint(c.out, *choice.Delta.Content)
			reply.WriteString(*choice.Delta.Content)
		}
	}

	if reply.Len() == 0 {
		return "", errors.New("relay returned an empty reply")
	}
	return reply.String(), nil
}
