package client

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"tradepost/internal/protocol"
)

var (
	// ErrQuit is returned by a UI prompt when the user asks to quit.
	ErrQuit = errors.New("quit requested")
	// ErrInvalidInput marks input that is rejected before reaching the server.
	ErrInvalidInput = errors.New("invalid input")
)

type CommandKind int

const (
	CmdHelp CommandKind = iota + 1
	CmdCredits
	CmdItems
	CmdMarket
	CmdUsers
	CmdItem
	CmdHas
	CmdWhoAmI
	CmdBuy
	CmdSell
	CmdLogout
)

type Command struct {
	Kind   CommandKind
	Name   string
	Amount int64
}

const HelpText = `commands:
  credits            show your credits
  items              show the items you own
  market             list the items on sale
  users              list known users
  item NAME          show prices of one item
  has NAME           show how many NAME you own
  whoami             show who you are logged in as
  buy NAME [AMOUNT]  buy items (default 1)
  sell NAME [AMOUNT] sell items (default 1)
  logout             log out
  quit               leave the client`

// ParseCommand turns one input line into a Command. "quit" yields ErrQuit.
func ParseCommand(line string) (Command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Command{}, errors.Wrap(ErrInvalidInput, "empty command")
	}
	verb, args := strings.ToLower(fields[0]), fields[1:]

	noArgs := func(kind CommandKind) (Command, error) {
		if len(args) != 0 {
			return Command{}, errors.Wrapf(ErrInvalidInput, "%s takes no arguments", verb)
		}
		return Command{Kind: kind}, nil
	}
	named := func(kind CommandKind) (Command, error) {
		if len(args) != 1 {
			return Command{}, errors.Wrapf(ErrInvalidInput, "usage: %s NAME", verb)
		}
		return Command{Kind: kind, Name: args[0]}, nil
	}

	switch verb {
	case "quit", "exit":
		return Command{}, ErrQuit
	case "help", "?":
		return noArgs(CmdHelp)
	case "credits":
		return noArgs(CmdCredits)
	case "items", "inventory":
		return noArgs(CmdItems)
	case "market":
		return noArgs(CmdMarket)
	case "users":
		return noArgs(CmdUsers)
	case "whoami":
		return noArgs(CmdWhoAmI)
	case "logout":
		return noArgs(CmdLogout)
	case "item":
		return named(CmdItem)
	case "has":
		return named(CmdHas)
	case "buy", "sell":
		kind := CmdBuy
		if verb == "sell" {
			kind = CmdSell
		}
		if len(args) < 1 || len(args) > 2 {
			return Command{}, errors.Wrapf(ErrInvalidInput, "usage: %s NAME [AMOUNT]", verb)
		}
		amount := int64(1)
		if len(args) == 2 {
			n, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil || n < 1 {
				return Command{}, errors.Wrapf(ErrInvalidInput, "amount must be a positive integer, got %q", args[1])
			}
			amount = n
		}
		return Command{Kind: kind, Name: args[0], Amount: amount}, nil
	default:
		return Command{}, errors.Wrapf(ErrInvalidInput, "unknown command %q", verb)
	}
}

// Request maps the command onto the wire. Help and logout have no plain
// request and return false.
func (c Command) Request() (protocol.Request, bool) {
	switch c.Kind {
	case CmdCredits:
		return protocol.NewRequest(protocol.GetCredits), true
	case CmdItems:
		return protocol.NewRequest(protocol.GetUserItems), true
	case CmdMarket:
		return protocol.NewRequest(protocol.GetAllItems), true
	case CmdUsers:
		return protocol.NewRequest(protocol.GetAllUsersNames), true
	case CmdWhoAmI:
		return protocol.NewRequest(protocol.GetCurrentUserName), true
	case CmdItem:
		return protocol.NameRequest(protocol.GetItem, c.Name), true
	case CmdHas:
		return protocol.NameRequest(protocol.UserHas, c.Name), true
	case CmdBuy:
		return protocol.TradeRequest(protocol.PurchaseItem, c.Name, c.Amount), true
	case CmdSell:
		return protocol.TradeRequest(protocol.SellItem, c.Name, c.Amount), true
	default:
		return protocol.Request{}, false
	}
}
