package scanning

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
)

var _ = Describe("Ollama", func() {
	var (
		server   *ghttp.Server
		ollama   *Ollama
		request  Request
		captured ollamaChatRequest
		reply    interface{}
		status   int
		resp     Response
		err      error
	)

	BeforeEach(func() {
		server = ghttp.NewServer()
		var newErr error
		ollama, newErr = NewOllama(server.URL()+"/", "llava")
		Expect(newErr).NotTo(HaveOccurred())

		schema := ReceiptSchema()
		request = Request{
			Image:        pngBytes(),
			MIMEType:     "image/png",
			Instructions: instructions(schema),
			Prompt:       prompt(""),
			Schema:       schema,
		}
		status = http.StatusOK
		captured = ollamaChatRequest{}
	})

	AfterEach(func() {
		server.Close()
	})

	JustBeforeEach(func() {
		server.AppendHandlers(ghttp.CombineHandlers(
			ghttp.VerifyRequest(http.MethodPost, "/api/chat"),
			ghttp.VerifyContentType("application/json"),
			func(w http.ResponseWriter, r *http.Request) {
				body, readErr := io.ReadAll(r.Body)
				Expect(readErr).NotTo(HaveOccurred())
				Expect(json.Unmarshal(body, &captured)).To(Succeed())
			},
			ghttp.RespondWithJSONEncodedPtr(&status, &reply),
		))
		resp, err = ollama.Generate(context.Background(), request)
	})

	When("the model calls the receipt tool", func() {
		BeforeEach(func() {
			reply = map[string]interface{}{
				"done": true,
				"message": map[string]interface{}{
					"role":    "assistant",
					"content": "",
					"tool_calls": []interface{}{
						map[string]interface{}{"function": map[string]interface{}{
							"name":      "record_receipt",
							"arguments": map[string]interface{}{"total_amount": 12.5, "payment_method": "yape"},
						}},
					},
				},
			}
		})

		It("should return the arguments as structured output", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.Structured).NotTo(BeNil())
			Expect(string(resp.Structured)).To(MatchJSON(`{"total_amount": 12.5, "payment_method": "yape"}`))
		})

		It("should send the model, messages and tool", func() {
			Expect(captured.Model).To(Equal("llava"))
			Expect(captured.Stream).To(BeFalse())
			Expect(captured.Messages).To(HaveLen(2))
			Expect(captured.Messages[0].Role).To(Equal("system"))
			Expect(captured.Messages[1].Role).To(Equal("user"))
			Expect(captured.Messages[1].Images).To(ConsistOf(base64.StdEncoding.EncodeToString(request.Image)))
			Expect(captured.Tools).To(HaveLen(1))
			Expect(captured.Tools[0].Type).To(Equal("function"))
			Expect(captured.Tools[0].Function.Name).To(Equal("record_receipt"))
			Expect(captured.Tools[0].Function.Parameters).To(HaveKeyWithValue("required", ConsistOf("total_amount")))
			Expect(captured.Options).To(HaveKeyWithValue("temperature", BeNumerically("==", 0)))
		})
	})

	When("the tool arguments are a JSON string", func() {
		BeforeEach(func() {
			reply = map[string]interface{}{
				"message": map[string]interface{}{
					"role": "assistant",
					"tool_calls": []interface{}{
						map[string]interface{}{"function": map[string]interface{}{
							"name":      "record_receipt",
							"arguments": `{"total_amount": 3}`,
						}},
					},
				},
			}
		})

		It("should decode the string", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(string(resp.Structured)).To(MatchJSON(`{"total_amount": 3}`))
		})
	})

	When("the model answers with a JSON object as text", func() {
		BeforeEach(func() {
			reply = map[string]interface{}{
				"message": map[string]interface{}{
					"role":    "assistant",
					"content": "```json\n{\"total_amount\": 8.75}\n```",
				},
			}
		})

		It("should treat it as structured output", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(string(resp.Structured)).To(MatchJSON(`{"total_amount": 8.75}`))
		})
	})

	When("the model answers with prose", func() {
		BeforeEach(func() {
			reply = map[string]interface{}{
				"message": map[string]interface{}{
					"role":    "assistant",
					"content": " That is a picture of a dog. ",
				},
			}
		})

		It("should return the text", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.Structured).To(BeNil())
			Expect(resp.Text).To(Equal("That is a picture of a dog."))
		})
	})

	When("the API fails", func() {
		BeforeEach(func() {
			status = http.StatusInternalServerError
			reply = map[string]string{"error": "model not found"}
		})

		It("should return an error", func() {
			Expect(err).To(MatchError(ContainSubstring("status 500")))
		})
	})

	When("the API rejects the request", func() {
		BeforeEach(func() {
			status = http.StatusBadRequest
			reply = map[string]string{"error": "image: unknown format"}
		})

		It("should report rejected content", func() {
			Expect(err).To(MatchError(ErrContentRejected))
		})
	})

	When("a non JPEG/PNG image cannot be converted", func() {
		BeforeEach(func() {
			reply = map[string]interface{}{"message": map[string]interface{}{"content": "ok"}}
		})

		It("should not call the API", func() {
			_, genErr := ollama.Generate(context.Background(), Request{Image: []byte("garbage"), MIMEType: "image/webp"})
			Expect(genErr).To(MatchError(ErrContentRejected))
			// only the request made by JustBeforeEach
			Expect(server.ReceivedRequests()).To(HaveLen(1))
		})
	})
})

var _ = Describe("NewOllama", func() {
	It("should apply defaults", func() {
		o, err := NewOllama("", "")
		Expect(err).NotTo(HaveOccurred())
		Expect(o.model).To(Equal("qwen2.5vl"))
		Expect(o.client.BaseURL).To(Equal("http://localhost:11434"))
		Expect(o.Close()).To(Succeed())
	})
})
