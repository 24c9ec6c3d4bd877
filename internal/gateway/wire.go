package gateway

import (
	"fmt"

	"github.com/punchamoorthee/payrecon/internal/config"
)

// BuildRegistry constructs adapters for every gateway present in the config
// file. Unknown gateway names are a configuration error.
func BuildRegistry(gateways map[string]config.GatewayConfig) (*Registry, error) {
	var adapters []Adapter
	for name, gc := range gateways {
		switch name {
		case "cinetpay":
			adapters = append(adapters, NewCinetPay(CinetPayConfig{
				BaseURL:      gc.BaseURL,
				APIKey:       gc.APIKey,
				SiteID:       gc.SiteID,
				Secret:       gc.Secret,
				WebhookToken: gc.WebhookToken,
				NotifyURL:    gc.NotifyURL,
				ReturnURL:    gc.ReturnURL,
				Timeout:      gc.Timeout.Duration,
			}))
		case "paydunya":
			adapters = append(adapters, NewPayDunya(PayDunyaConfig{
				BaseURL:     gc.BaseURL,
				MasterKey:   gc.MasterKey,
				PrivateKey:  gc.PrivateKey,
				Token:       gc.Token,
				WebhookUser: gc.WebhookUser,
				WebhookPass: gc.WebhookPass,
				CallbackURL: gc.NotifyURL,
				Timeout:     gc.Timeout.Duration,
			}))
		case "nowpayments":
			adapters = append(adapters, NewNOWPayments(NOWPaymentsConfig{
				BaseURL:    gc.BaseURL,
				APIKey:     gc.APIKey,
				IPNSecret:  gc.IPNSecret,
				PayCiphers: gc.PayCiphers,
				Timeout:    gc.Timeout.Duration,
			}))
		default:
			return nil, fmt.Errorf("unknown gateway %q in config", name)
		}
	}
	return NewRegistry(adapters...), nil
}
