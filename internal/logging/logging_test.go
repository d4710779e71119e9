package logging

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"tradepost/internal/protocol"
)

func TestParseLevel(t *testing.T) {
	require.Equal(t, logrus.DebugLevel, ParseLevel("DEBUG"))
	require.Equal(t, logrus.WarnLevel, ParseLevel(" warning "))
	require.Equal(t, logrus.InfoLevel, ParseLevel("nonsense"))
}

func TestResponseFieldsIncludeFailure(t *testing.T) {
	fields := ResponseFields(protocol.Fail(protocol.GetCredits, protocol.FailureNotLoggedIn, "not logged in"))
	require.Equal(t, "GET_CREDITS", fields["request"])
	require.Equal(t, "NotLoggedIn", fields["code"])

	fields = ResponseFields(protocol.OK(protocol.Ping, nil))
	require.NotContains(t, fields, "code")
}
