// Package domain holds the pure decision rules of spec.md section 4.5:
// whether an incoming conv_info entry should trigger a (re)clone or a
// soft-remove, and the last-displayed/request tie-breaks named in
// section 9's Open Questions.
//
// Grounded on pkg/models/contacts.go's MergeContact (the same
// max-of-timestamps shape, generalized from the two-timestamp Contact
// case to ConvInfo's created/removed/erased triple).
package domain

import "github.com/meshid-core/core/pkg/models"

// SyncAction is what onSyncData should do with one incoming conv_info
// entry, per spec.md section 4.5.7.
type SyncAction int

const (
	// ActionIgnore: the incoming entry carries no new information.
	ActionIgnore SyncAction = iota
	// ActionClone: trigger cloneConversation for this id.
	ActionClone
	// ActionSoftRemove: mark ConvInfo.removed locally.
	ActionSoftRemove
	// ActionEraseRepo: soft-remove already happened; also schedule
	// physical repo deletion (incoming entry itself carries erased_ts).
	ActionEraseRepo
)

// DecideSyncAction implements spec.md section 4.5.7's per-entry rule and
// the S7 scenario's tie-break: a newer local `removed` suppresses
// re-clone unless the incoming `created > local.removed`.
func DecideSyncAction(local models.ConvInfo, known bool, incoming models.ConvInfo) SyncAction {
	if !incoming.IsRemoved() {
		if known && local.IsRemoved() && incoming.CreatedAt <= local.RemovedAt {
			return ActionIgnore
		}
		return ActionClone
	}
	if incoming.IsErased() {
		return ActionEraseRepo
	}
	return ActionSoftRemove
}

// MergeConvInfo folds an incoming conv_info entry into the local one,
// keeping the newer created/removed/erased timestamps and the union of
// members (spec.md section 4.5.7).
func MergeConvInfo(local models.ConvInfo, incoming models.ConvInfo) models.ConvInfo {
	out := local
	if incoming.CreatedAt > out.CreatedAt {
		out.CreatedAt = incoming.CreatedAt
	}
	if incoming.RemovedAt > out.RemovedAt {
		out.RemovedAt = incoming.RemovedAt
	}
	if incoming.ErasedAt > out.ErasedAt {
		out.ErasedAt = incoming.ErasedAt
	}
	out.Members = unionStrings(out.Members, incoming.Members)
	if out.LastDisplayed == "" {
		out.LastDisplayed = incoming.LastDisplayed
	}
	return out
}

func unionStrings(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range [][]string{a, b} {
		for _, v := range s {
			if _, ok := seen[v]; ok {
				continue
			}
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	return out
}

// ShouldAcceptRequest implements the idempotency gate shared by
// onTrustRequest/onConversationRequest (spec.md section 4.5.5): a new
// request is only recorded if there is no active 1:1 conversation with
// the sender already, and the conversation id is neither already
// accepted (known) nor already pending.
func ShouldAcceptRequest(hasActive1to1 bool, known bool, alreadyPending bool) bool {
	return !hasActive1to1 && !known && !alreadyPending
}

// LastDisplayedWinner applies DESIGN.md's Open Question 1 tie-break:
// newer epoch wins; on an exact tie, the live value (already applied to
// the open Conversation) wins.
func LastDisplayedWinner(live models.LastDisplayedEntry, incoming models.LastDisplayedEntry) models.LastDisplayedEntry {
	if incoming.Epoch > live.Epoch {
		return incoming
	}
	return live
}

// MergeConversationRequest returns the outcome of merging an incoming
// ConversationRequest into the local state (spec.md section 4.5.7's
// `msg.cr` partition and section 9's second Open Question: a request
// with both `declined` and a new `received` is treated as declined).
func MergeConversationRequest(local models.ConversationRequest, known bool, incoming models.ConversationRequest) models.ConversationRequest {
	if !known {
		return incoming
	}
	out := local
	if incoming.ReceivedAt > out.ReceivedAt {
		out.ReceivedAt = incoming.ReceivedAt
		out.Metadata = incoming.Metadata
	}
	if incoming.DeclinedAt > out.DeclinedAt {
		out.DeclinedAt = incoming.DeclinedAt
	}
	return out
}
