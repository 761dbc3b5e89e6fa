package validation

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/brianly1003/nrelay/internal/domain"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
)

var conditionPattern = regexp.MustCompile(`^(kind|created_at)(=|>|<)(\d+)$`)

// delegationToken is the hash a delegator signs to authorize delegatee under conditions.
func delegationToken(delegatee, conditions string) [32]byte {
	return sha256.Sum256([]byte("nostr:delegation:" + delegatee + ":" + conditions))
}

// VerifyDelegation checks ev's delegation tag and returns the delegator's pubkey.
// The proof must be signed by the delegator for ev.PubKey and every condition
// must hold for ev.
func VerifyDelegation(ev *domain.Event) (string, error) {
	tag := ev.DelegationTag()
	if tag == nil {
		return "", domain.NewRejection(domain.ErrInvalidDelegation, "missing delegation tag")
	}
	delegator, conditions, sigHex := tag[1], tag[2], tag[3]

	pubBytes, err := hex.DecodeString(delegator)
	if err != nil || len(pubBytes) != schnorr.PubKeyBytesLen {
		return "", domain.NewRejection(domain.ErrInvalidDelegation, "malformed delegator pubkey")
	}
	pub, err := schnorr.ParsePubKey(pubBytes)
	if err != nil {
		return "", domain.NewRejection(domain.ErrInvalidDelegation, "delegator pubkey is not on the curve")
	}

	sigBytes, err := hex.DecodeString(sigHex)
	if err != nil || len(sigBytes) != schnorr.SignatureSize {
		return "", domain.NewRejection(domain.ErrInvalidDelegation, "malformed delegation signature")
	}
	sig, err := schnorr.ParseSignature(sigBytes)
	if err != nil {
		return "", domain.NewRejection(domain.ErrInvalidDelegation, "malformed delegation signature")
	}

	token := delegationToken(ev.PubKey, conditions)
	if !sig.Verify(token[:], pub) {
		return "", domain.NewRejection(domain.ErrInvalidDelegation, "delegation signature does not verify")
	}

	if err := checkConditions(ev, conditions); err != nil {
		return "", domain.NewRejection(domain.ErrInvalidDelegation, err.Error())
	}

	return delegator, nil
}

// checkConditions requires every &-separated condition to hold for ev.
// An empty condition string places no restriction.
func checkConditions(ev *domain.Event, conditions string) error {
	if conditions == "" {
		return nil
	}

	for _, condition := range strings.Split(conditions, "&") {
		match := conditionPattern.FindStringSubmatch(condition)
		if match == nil {
			return fmt.Errorf("unsupported delegation condition %q", condition)
		}
		field, op := match[1], match[2]
		value, err := strconv.ParseInt(match[3], 10, 64)
		if err != nil {
			return fmt.Errorf("delegation condition %q: %w", condition, err)
		}

		var actual int64
		switch field {
		case "kind":
			if op != "=" {
				return fmt.Errorf("delegation condition %q: kind only supports =", condition)
			}
			actual = int64(ev.Kind)
		case "created_at":
			actual = int64(ev.CreatedAt)
		}

		if !compare(actual, op, value) {
			return fmt.Errorf("delegation condition %q not met", condition)
		}
	}

	return nil
}

func compare(actual int64, op string, value int64) bool {
	switch op {
	case "=":
		return actual == value
	case ">":
		return actual > value
	case "<":
		return actual < value
	}
	return false
}

// SignDelegation produces the hex signature a delegator places in a
// delegation tag authorizing delegatee under conditions.
func SignDelegation(delegatorSecretKey, delegatee, conditions string) (string, error) {
	skBytes, err := hex.DecodeString(delegatorSecretKey)
	if err != nil {
		return "", fmt.Errorf("decode secret key: %w", err)
	}

	sk, _ := btcec.PrivKeyFromBytes(skBytes)
	token := delegationToken(delegatee, conditions)

	sig, err := schnorr.Sign(sk, token[:])
	if err != nil {
		return "", fmt.Errorf("sign delegation: %w", err)
	}

	return hex.EncodeToString(sig.Serialize()), nil
}
