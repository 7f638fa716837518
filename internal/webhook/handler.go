package webhook

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
)

const defaultSignatureHeader = "X-Twilio-Signature"

// Handler serves POST /webhooks/{provider}.
//
// Unknown message ids are acknowledged with 200 so providers stop retrying;
// only malformed requests (400) and bad signatures (403) are refused.
func (i *Ingester) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		providerName := chi.URLParam(r, "provider")
		if err := r.ParseForm(); err != nil {
			writeOutcome(w, http.StatusBadRequest, OutcomeBadRequest)
			return
		}

		header := defaultSignatureHeader
		if a, ok := i.providers.ByName(providerName); ok {
			header = a.SignatureHeader()
		}

		outcome, err := i.Ingest(r.Context(), CallbackFromForm(providerName, r.Header.Get(header), r.PostForm))
		if err != nil {
			log.Printf("[Webhook] %s: %v", providerName, err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		switch outcome {
		case OutcomeBadRequest:
			writeOutcome(w, http.StatusBadRequest, outcome)
		case OutcomeInvalidSignature:
			writeOutcome(w, http.StatusForbidden, outcome)
		default:
			writeOutcome(w, http.StatusOK, outcome)
		}
	}
}

func writeOutcome(w http.ResponseWriter, code int, outcome Outcome) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]Outcome{"outcome": outcome})
}
