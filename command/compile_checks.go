package command

import (
	"github.com/goliatone/go-bankauth/core"
	gocmd "github.com/goliatone/go-command"
)

var (
	_ gocmd.Commander[AuthenticateMessage]      = (*AuthenticateCommand)(nil)
	_ gocmd.Commander[StartConsentMessage]      = (*StartConsentCommand)(nil)
	_ gocmd.Commander[ExchangeOAuthCodeMessage] = (*ExchangeOAuthCodeCommand)(nil)
	_ gocmd.Commander[CreateEndUserMessage]     = (*CreateEndUserCommand)(nil)
	_ gocmd.Commander[DisconnectMessage]        = (*DisconnectCommand)(nil)
	_ gocmd.Commander[PruneTokensMessage]       = (*PruneTokensCommand)(nil)
	_ gocmd.Commander[WarmTokensMessage]        = (*WarmTokensCommand)(nil)

	_ MutatingService    = (*core.Service)(nil)
	_ MaintenanceService = (*core.Service)(nil)
)
