package webhook_test

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"issuemind.app/triage/internal/http/handler/webhook"
)

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

var _ = Describe("GitHubWebhookHandler", func() {
	const secret = "hook-secret"

	var (
		router *gin.Engine
		sync   *recordingSync
	)

	BeforeEach(func() {
		sync = &recordingSync{}
		h := webhook.NewGitHubWebhookHandler(fakeRepos{}, sync, secret)
		router = gin.New()
		router.POST("/webhooks/github/:repo_id", h.HandleEvent)
	})

	send := func(repoID, event string, body []byte, signature string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/github/"+repoID, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-GitHub-Event", event)
		if signature != "" {
			req.Header.Set("X-Hub-Signature-256", signature)
		}
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	issueOpened := []byte(`{"action":"opened","issue":{"number":342,"title":"Login fails on Safari"},"repository":{"full_name":"acme/demo"}}`)

	It("accepts a signed issue event and syncs the repository", func() {
		w := send("7", "issues", issueOpened, sign(secret, issueOpened))

		Expect(w.Code).To(Equal(http.StatusAccepted))
		Expect(w.Body.String()).To(ContainSubstring(`"action":"opened"`))
		Eventually(sync.Calls).WithTimeout(time.Second).Should(Equal([]int64{7}))
	})

	It("accepts issue comments", func() {
		body := []byte(`{"action":"created","issue":{"number":342},"comment":{"body":"same on iOS"},"repository":{"full_name":"acme/demo"}}`)

		w := send("7", "issue_comment", body, sign(secret, body))

		Expect(w.Code).To(Equal(http.StatusAccepted))
		Eventually(sync.Calls).WithTimeout(time.Second).Should(Equal([]int64{7}))
	})

	It("rejects a bad signature", func() {
		w := send("7", "issues", issueOpened, sign("other", issueOpened))

		Expect(w.Code).To(Equal(http.StatusUnauthorized))
		Consistently(sync.Calls).WithTimeout(50 * time.Millisecond).Should(BeEmpty())
	})

	It("rejects a missing signature", func() {
		w := send("7", "issues", issueOpened, "")
		Expect(w.Code).To(Equal(http.StatusUnauthorized))
	})

	It("acknowledges unrelated events without syncing", func() {
		body := []byte(`{"zen":"Keep it logically awesome.","hook_id":1}`)

		w := send("7", "ping", body, sign(secret, body))

		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(w.Body.String()).To(ContainSubstring(`"accepted":false`))
		Consistently(sync.Calls).WithTimeout(50 * time.Millisecond).Should(BeEmpty())
	})

	It("rejects a payload for another repository", func() {
		body := []byte(`{"action":"opened","issue":{"number":1},"repository":{"full_name":"acme/other"}}`)

		w := send("7", "issues", body, sign(secret, body))
		Expect(w.Code).To(Equal(http.StatusBadRequest))
	})

	It("returns 404 for a GitLab repository", func() {
		w := send("8", "issues", issueOpened, sign(secret, issueOpened))
		Expect(w.Code).To(Equal(http.StatusNotFound))
	})

	It("returns 404 for an unknown repository", func() {
		w := send("99", "issues", issueOpened, sign(secret, issueOpened))
		Expect(w.Code).To(Equal(http.StatusNotFound))
	})
})
