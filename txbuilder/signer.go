package txbuilder

import (
	"context"

	"github.com/solsniper/sniper/chain"
	"github.com/solsniper/sniper/collab"
)

// sign derives the required-signer set from the message header over its
// ordered static account keys (§4.3.5) and hands the message to the
// collaborator signer service. The required-signer derivation itself
// lives on chain.Message since it is pure data, not a network call.
func sign(ctx context.Context, signer collab.SignerService, msg chain.Message) (chain.Transaction, []chain.PublicKey, error) {
	required := msg.RequiredSigners()
	tx, err := signer.Sign(ctx, msg, required)
	if err != nil {
		return chain.Transaction{}, nil, err
	}
	return tx, required, nil
}
