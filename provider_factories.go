package bankauth

import (
	"github.com/goliatone/go-bankauth/core"
	"github.com/goliatone/go-bankauth/providers"
	"github.com/goliatone/go-bankauth/providers/consentbank"
	"github.com/goliatone/go-bankauth/providers/enduserbank"
	"github.com/goliatone/go-bankauth/providers/oauthbank"
)

func OAuthBankStrategy(cfg core.ProviderConfig, deps providers.Dependencies) (core.Strategy, error) {
	strategy, err := oauthbank.New(cfg, deps)
	if err != nil {
		return nil, err
	}
	return strategy, nil
}

func ConsentBankStrategy(cfg core.ProviderConfig, deps providers.Dependencies) (core.Strategy, error) {
	strategy, err := consentbank.New(cfg, deps)
	if err != nil {
		return nil, err
	}
	return strategy, nil
}

func EndUserBankStrategy(cfg core.ProviderConfig, deps providers.Dependencies) (core.Strategy, error) {
	strategy, err := enduserbank.New(cfg, deps)
	if err != nil {
		return nil, err
	}
	return strategy, nil
}

func BuiltinStrategyFactories() map[core.Provider]StrategyFactory {
	return map[core.Provider]StrategyFactory{
		core.ProviderOAuthBank:   OAuthBankStrategy,
		core.ProviderConsentBank: ConsentBankStrategy,
		core.ProviderEndUserBank: EndUserBankStrategy,
	}
}

// RegisterConfiguredStrategies builds a strategy for every provider section
// in svc's Config and registers it, using the service Manager.
func RegisterConfiguredStrategies(svc *core.Service, deps providers.Dependencies, hooks *ExtensionHooks) error {
	if svc == nil {
		return core.NewBadInputError("bankauth: service is required")
	}
	if hooks == nil {
		hooks = DefaultExtensionHooks()
	}
	if deps.Manager == nil {
		deps.Manager = svc.Manager()
	}
	return hooks.ApplyStrategies(svc, svc.Config(), deps)
}
