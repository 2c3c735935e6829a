package scanning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/zombor/receipt-vault/internal/receipt"
)

// receiptFieldsPrompt asks for the ledger fields as a flat JSON object
const receiptFieldsPrompt = `You are analyzing a receipt or invoice document. Carefully read all text in the image and extract the following information.

Return ONLY valid JSON with exactly these keys:
{
  "merchant": "business or store name from the header",
  "date": "transaction date in DD/MM/YYYY format",
  "address": "business address",
  "phone": "business phone number",
  "tax_id": "business registration or VAT number, digits only",
  "items": "short comma separated description of the purchased items",
  "total": 0.00,
  "tax": 0.00,
  "payment_method": "card brand or cash",
  "card_last4": "last four digits of the card if printed"
}

Important:
- total and tax must be numbers without currency symbols or thousands separators
- If you cannot find a field, use an empty string for text fields and null for numbers
- Do not include any text before or after the JSON
- Do not use markdown code blocks`

// generativeModel is the part of *genai.GenerativeModel Gemini calls
type generativeModel interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// Gemini implements the Extractor interface using Google Gemini
type Gemini struct {
	client   *genai.Client
	model    generativeModel
	currency string
	timeout  time.Duration
	clock    Clock
	logger   *slog.Logger
}

// NewGemini creates a new Gemini Extractor instance
func NewGemini(apiKey, modelName, currency string) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if modelName == "" {
		modelName = "gemini-2.5-pro"
	}
	if currency == "" {
		currency = "$"
	}

	client, err := genai.NewClient(context.Background(), option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	model := client.GenerativeModel(modelName)
	model.SetTemperature(0.1)

	g := newGeminiWithModel(model, currency, SystemClock{}, nil)
	g.client = client
	return g, nil
}

func newGeminiWithModel(model generativeModel, currency string, clock Clock, logger *slog.Logger) *Gemini {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gemini{
		model:    model,
		currency: currency,
		timeout:  30 * time.Second,
		clock:    clock,
		logger:   logger.With("component", "gemini"),
	}
}

// Extract asks the model for the receipt fields
func (g *Gemini) Extract(ctx context.Context, img receipt.Image) (receipt.Fields, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	// genai.ImageData expects just the format suffix (e.g., "png"), not the full MIME type
	format := strings.TrimPrefix(img.ContentType, "image/")
	parts := []genai.Part{
		genai.ImageData(format, img.Data),
		genai.Text(receiptFieldsPrompt),
	}

	resp, err := g.model.GenerateContent(ctx, parts...)
	if err != nil {
		return nil, generationError(err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("%w: %w: no response from gemini", ErrInvalidResponse, receipt.ErrMalformed)
	}

	var responseText strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			responseText.WriteString(string(text))
		}
	}

	fields, err := parseFieldsJSON(responseText.String(), g.currency)
	if err != nil {
		return nil, fmt.Errorf("%w: %w: parsing receipt data: %w", ErrInvalidResponse, receipt.ErrMalformed, err)
	}
	applyDateFallback(ctx, fields, g.clock.Now(), g.logger)
	return fields, nil
}

// generationError classifies a GenerateContent failure. The client
// surfaces REST failures as *googleapi.Error and gRPC ones as a status.
func generationError(err error) error {
	var class error
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		class = receipt.ClassifyStatus(gerr.Code)
	} else if st, ok := status.FromError(err); ok {
		class = grpcClass(st.Code())
	}
	if class == nil && receipt.IsTransient(err) {
		class = receipt.ErrTransient
	}

	switch {
	case errors.Is(class, receipt.ErrAuth):
		return fmt.Errorf("%w: %w: generating content: %w", ErrAuthentication, receipt.ErrAuth, err)
	case class != nil:
		return fmt.Errorf("%w: %w: generating content: %w", ErrExtractionFailed, class, err)
	}
	return fmt.Errorf("%w: generating content: %w", ErrExtractionFailed, err)
}

func grpcClass(code codes.Code) error {
	switch code {
	case codes.Unauthenticated, codes.PermissionDenied:
		return receipt.ErrAuth
	case codes.NotFound:
		return receipt.ErrNotFound
	case codes.AlreadyExists:
		return receipt.ErrAlreadyExists
	case codes.Unavailable, codes.ResourceExhausted, codes.DeadlineExceeded, codes.Internal:
		return receipt.ErrTransient
	}
	return nil
}

// Close closes the Gemini client
func (g *Gemini) Close() error {
	if g.client == nil {
		return nil
	}
	return g.client.Close()
}
