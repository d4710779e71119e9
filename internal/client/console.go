package client

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"tradepost/internal/domain"
	"tradepost/internal/protocol"
)

// Console is a line based UI over a reader and a writer.
type Console struct {
	in  *bufio.Scanner
	out io.Writer
}

var _ UI = (*Console)(nil)

func NewConsole(in io.Reader, out io.Writer) *Console {
	return &Console{in: bufio.NewScanner(in), out: out}
}

func (c *Console) readLine(prompt string) (string, error) {
	fmt.Fprint(c.out, prompt)
	if !c.in.Scan() {
		if err := c.in.Err(); err != nil {
			return "", errors.Wrap(err, "read input")
		}
		return "", io.EOF
	}
	return strings.TrimSpace(c.in.Text()), nil
}

func (c *Console) AskName() (string, error) {
	for {
		line, err := c.readLine("user name: ")
		if err != nil {
			return "", err
		}
		switch {
		case strings.EqualFold(line, "quit"):
			return "", ErrQuit
		case line == "":
			continue
		case strings.ContainsAny(line, " \t"):
			fmt.Fprintln(c.out, "a user name is a single word")
			continue
		}
		return line, nil
	}
}

func (c *Console) AskRetryConnection() (bool, error) {
	return c.yesNo("retry connecting? [y/n] ")
}

func (c *Console) ConfirmQuit() (bool, error) {
	return c.yesNo("really quit? [y/n] ")
}

func (c *Console) yesNo(prompt string) (bool, error) {
	for {
		line, err := c.readLine(prompt)
		if err != nil {
			return false, err
		}
		switch strings.ToLower(line) {
		case "y", "yes":
			return true, nil
		case "n", "no":
			return false, nil
		case "quit":
			return false, ErrQuit
		}
	}
}

// ReadCommand keeps prompting until a command for the session arrives.
// Help and malformed input are handled here.
func (c *Console) ReadCommand() (Command, error) {
	for {
		line, err := c.readLine("> ")
		if err != nil {
			return Command{}, err
		}
		if line == "" {
			continue
		}
		cmd, err := ParseCommand(line)
		switch {
		case errors.Is(err, ErrQuit):
			return Command{}, ErrQuit
		case errors.Is(err, ErrInvalidInput):
			fmt.Fprintf(c.out, "%v (type help for a list of commands)\n", err)
			continue
		case err != nil:
			return Command{}, err
		}
		if cmd.Kind == CmdHelp {
			fmt.Fprintln(c.out, HelpText)
			continue
		}
		return cmd, nil
	}
}

func (c *Console) Notify(msg string) {
	fmt.Fprintln(c.out, msg)
}

func (c *Console) ShowResult(cmd Command, resp protocol.Response) {
	if cmd.Kind == CmdHelp {
		fmt.Fprintln(c.out, HelpText)
		return
	}
	if !resp.Success {
		fmt.Fprintf(c.out, "error: %s\n", resp.Message)
		return
	}

	var err error
	switch cmd.Kind {
	case CmdCredits:
		var credits int64
		if err = resp.Decode(&credits); err == nil {
			fmt.Fprintf(c.out, "credits: %d\n", credits)
		}
	case CmdItems:
		var owned map[string]int64
		if err = resp.Decode(&owned); err == nil {
			c.showOwned(owned)
		}
	case CmdMarket:
		var items []domain.Item
		if err = resp.Decode(&items); err == nil {
			c.showItems(items)
		}
	case CmdItem:
		var item domain.Item
		if err = resp.Decode(&item); err == nil {
			c.showItems([]domain.Item{item})
		}
	case CmdUsers:
		var names []string
		if err = resp.Decode(&names); err == nil {
			fmt.Fprintf(c.out, "users: %s\n", strings.Join(names, ", "))
		}
	case CmdWhoAmI:
		var name string
		if err = resp.Decode(&name); err == nil {
			fmt.Fprintf(c.out, "logged in as %s\n", name)
		}
	case CmdHas:
		var qty int64
		if err = resp.Decode(&qty); err == nil {
			fmt.Fprintf(c.out, "you own %d %s\n", qty, cmd.Name)
		}
	case CmdBuy, CmdSell:
		var result protocol.TradeResult
		if err = resp.Decode(&result); err == nil {
			verb, dir := "bought", "for"
			if cmd.Kind == CmdSell {
				verb = "sold"
			}
			fmt.Fprintf(c.out, "%s %d %s %s %d credits, %d left\n", verb, result.Amount, result.Item, dir, result.Total, result.Credits)
		}
	default:
		raw, _ := json.Marshal(resp.Data)
		fmt.Fprintln(c.out, string(raw))
	}
	if err != nil {
		fmt.Fprintf(c.out, "unreadable reply: %v\n", err)
	}
}

func (c *Console) showOwned(owned map[string]int64) {
	if len(owned) == 0 {
		fmt.Fprintln(c.out, "you own nothing")
		return
	}
	names := make([]string, 0, len(owned))
	for name := range owned {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(c.out, "  %-16s %d\n", name, owned[name])
	}
}

func (c *Console) showItems(items []domain.Item) {
	fmt.Fprintf(c.out, "  %-16s %8s %8s\n", "item", "buy", "sell")
	for _, item := range items {
		fmt.Fprintf(c.out, "  %-16s %8d %8d\n", item.Name, item.BuyPrice, item.SellPrice)
	}
}
