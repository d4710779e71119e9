package client

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"tradepost/internal/domain"
	"tradepost/internal/protocol"
)

func newTestConsole(input string) (*Console, *bytes.Buffer) {
	out := &bytes.Buffer{}
	return NewConsole(strings.NewReader(input), out), out
}

func TestConsoleAskName(t *testing.T) {
	c, out := newTestConsole("\n  two words\n alice \n")
	name, err := c.AskName()
	require.NoError(t, err)
	require.Equal(t, "alice", name)
	require.Contains(t, out.String(), "a user name is a single word")

	c, _ = newTestConsole("quit\n")
	_, err = c.AskName()
	require.ErrorIs(t, err, ErrQuit)

	c, _ = newTestConsole("")
	_, err = c.AskName()
	require.ErrorIs(t, err, io.EOF)
}

func TestConsoleYesNo(t *testing.T) {
	c, out := newTestConsole("maybe\nY\nno\n")
	retry, err := c.AskRetryConnection()
	require.NoError(t, err)
	require.True(t, retry)
	require.Equal(t, 2, strings.Count(out.String(), "retry connecting?"))

	quit, err := c.ConfirmQuit()
	require.NoError(t, err)
	require.False(t, quit)

	_, err = c.ConfirmQuit()
	require.ErrorIs(t, err, io.EOF)
}

func TestConsoleReadCommand(t *testing.T) {
	c, out := newTestConsole("help\n\nbogus\nbuy sword 2\nquit\n")
	cmd, err := c.ReadCommand()
	require.NoError(t, err)
	require.Equal(t, Command{Kind: CmdBuy, Name: "sword", Amount: 2}, cmd)
	require.Contains(t, out.String(), HelpText)
	require.Contains(t, out.String(), `unknown command "bogus"`)

	_, err = c.ReadCommand()
	require.ErrorIs(t, err, ErrQuit)
}

func TestConsoleShowResult(t *testing.T) {
	tests := []struct {
		name string
		cmd  Command
		resp protocol.Response
		want string
	}{
		{
			name: "failure",
			cmd:  Command{Kind: CmdBuy, Name: "sword", Amount: 1},
			resp: protocol.Fail(protocol.PurchaseItem, protocol.FailureInsufficientFunds, "not enough credits"),
			want: "error: not enough credits\n",
		},
		{
			name: "credits",
			cmd:  Command{Kind: CmdCredits},
			resp: protocol.OK(protocol.GetCredits, int64(42)),
			want: "credits: 42\n",
		},
		{
			name: "purchase",
			cmd:  Command{Kind: CmdBuy, Name: "sword", Amount: 2},
			resp: protocol.OK(protocol.PurchaseItem, protocol.TradeResult{Item: "sword", Amount: 2, Total: 200, Credits: 50, Owned: 2}),
			want: "bought 2 sword for 200 credits, 50 left\n",
		},
		{
			name: "sale",
			cmd:  Command{Kind: CmdSell, Name: "sword", Amount: 1},
			resp: protocol.OK(protocol.SellItem, protocol.TradeResult{Item: "sword", Amount: 1, Total: 40, Credits: 90, Owned: 1}),
			want: "sold 1 sword for 40 credits, 90 left\n",
		},
		{
			name: "nothing owned",
			cmd:  Command{Kind: CmdItems},
			resp: protocol.OK(protocol.GetUserItems, map[string]int64{}),
			want: "you own nothing\n",
		},
		{
			name: "users",
			cmd:  Command{Kind: CmdUsers},
			resp: protocol.OK(protocol.GetAllUsersNames, []string{"alice", "bob"}),
			want: "users: alice, bob\n",
		},
		{
			name: "has",
			cmd:  Command{Kind: CmdHas, Name: "bow"},
			resp: protocol.OK(protocol.UserHas, int64(3)),
			want: "you own 3 bow\n",
		},
		{
			name: "unreadable",
			cmd:  Command{Kind: CmdCredits},
			resp: protocol.OK(protocol.GetCredits, "lots"),
			want: "unreadable reply",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, out := newTestConsole("")
			c.ShowResult(tt.cmd, tt.resp)
			require.Contains(t, out.String(), tt.want)
		})
	}
}

func TestConsoleShowsMarket(t *testing.T) {
	c, out := newTestConsole("")
	c.ShowResult(Command{Kind: CmdMarket}, protocol.OK(protocol.GetAllItems, []domain.Item{
		{Name: "sword", BuyPrice: 100, SellPrice: 40},
	}))
	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	require.Len(t, lines, 2)
	require.Equal(t, []string{"sword", "100", "40"}, strings.Fields(lines[1]))
}

func TestConsoleShowsOwnedItemsSorted(t *testing.T) {
	c, out := newTestConsole("")
	c.ShowResult(Command{Kind: CmdItems}, protocol.OK(protocol.GetUserItems, map[string]int64{"sword": 1, "bow": 3}))
	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	require.Len(t, lines, 2)
	require.Equal(t, []string{"bow", "3"}, strings.Fields(lines[0]))
	require.Equal(t, []string{"sword", "1"}, strings.Fields(lines[1]))
}
