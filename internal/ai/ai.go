// Package ai runs the admin back-office assistant. The model answers
// questions by calling a single read-only SQL tool.
package ai

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/01moynul/storefront-ledger/internal/apperr"
	"github.com/01moynul/storefront-ledger/internal/logger"
)

const (
	toolName = "run_readonly_sql"
	maxRows  = 200
	maxTurns = 6
)

var (
	errNotReadOnly = errors.New("only a single SELECT statement is allowed")

	writeKeywords = regexp.MustCompile(`(?i)\b(insert|update|delete|drop|alter|truncate|create|replace|grant|revoke|rename|lock|unlock|call|handler|load|outfile|dumpfile|sleep|benchmark)\b`)
	hiddenColumns = map[string]bool{"password_hash": true, "credentials": true}
)

// Assistant holds the Gemini client, the read-only pool the tool queries
// and the primary pool used to keep a log of questions.
type Assistant struct {
	client *genai.Client
	model  string
	readDB *sql.DB
	db     *sql.DB
	log    *logger.Logger
}

// NewAssistant initializes the Gemini client.
func NewAssistant(ctx context.Context, apiKey, model string, readDB, db *sql.DB, log *logger.Logger) (*Assistant, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	if model == "" {
		model = "gemini-1.5-flash"
	}
	return &Assistant{client: client, model: model, readDB: readDB, db: db, log: log}, nil
}

func (a *Assistant) Close() error {
	if a.client == nil {
		return nil
	}
	return a.client.Close()
}

// Answer is what the assistant endpoint returns.
type Answer struct {
	Answer     string `json:"answer"`
	TokensUsed int    `json:"tokens_used"`
}

// Ask sends the question to the model, runs any SQL it requests and records
// the exchange in assistant_logs.
func (a *Assistant) Ask(ctx context.Context, userID int64, question string) (*Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, apperr.Validation("Question is required")
	}

	model := a.client.GenerativeModel(a.model)
	model.Tools = []*genai.Tool{{
		FunctionDeclarations: []*genai.FunctionDeclaration{{
			Name:        toolName,
			Description: "Executes a READ-ONLY SQL query (SELECT only) to answer questions.",
			Parameters: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"query": {Type: genai.TypeString, Description: "The MySQL SELECT query to execute."},
				},
				Required: []string{"query"},
			},
		}},
	}}
	model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(systemPrompt())}}

	cs := model.StartChat()
	res, err := cs.SendMessage(ctx, genai.Text(question))
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindExternalGateway, "Assistant is unavailable, please retry")
	}

	tokens := 0
	answer := "No response."
	for turn := 0; ; turn++ {
		if res.UsageMetadata != nil {
			tokens = int(res.UsageMetadata.TotalTokenCount)
		}
		if len(res.Candidates) == 0 || res.Candidates[0].Content == nil || len(res.Candidates[0].Content.Parts) == 0 {
			break
		}
		part := res.Candidates[0].Content.Parts[0]
		call, ok := part.(genai.FunctionCall)
		if !ok {
			answer = fmt.Sprintf("%v", part)
			break
		}
		if call.Name != toolName || turn >= maxTurns {
			answer = "The assistant could not complete this request."
			break
		}

		query, _ := call.Args["query"].(string)
		a.log.Infow("assistant running sql", "user_id", userID, "query", query)
		result, err := a.RunReadOnlyQuery(ctx, query)
		if err != nil {
			result = fmt.Sprintf("SQL Error: %v", err)
		}
		res, err = cs.SendMessage(ctx, genai.FunctionResponse{
			Name:     toolName,
			Response: map[string]interface{}{"result": result},
		})
		if err != nil {
			return nil, apperr.Wrap(err, apperr.KindExternalGateway, "Assistant is unavailable, please retry")
		}
	}

	if err := a.record(ctx, userID, question, answer, tokens); err != nil {
		a.log.Warnw("failed to save assistant log", "user_id", userID, "error", err)
	}
	return &Answer{Answer: answer, TokensUsed: tokens}, nil
}

func (a *Assistant) record(ctx context.Context, userID int64, question, answer string, tokens int) error {
	_, err := a.db.ExecContext(ctx, `
		INSERT INTO assistant_logs (user_id, question, answer, tokens_used, created_at)
		VALUES (?, ?, ?, ?, ?)`, userID, question, answer, tokens, time.Now().UTC())
	return err
}

// CheckReadOnly rejects anything but a single SELECT or WITH statement.
func CheckReadOnly(query string) error {
	q := strings.TrimSpace(query)
	q = strings.TrimSuffix(q, ";")
	if q == "" || strings.Contains(q, ";") || strings.Contains(q, "--") || strings.Contains(q, "/*") || strings.Contains(q, "#") {
		return errNotReadOnly
	}
	head := strings.ToUpper(strings.Fields(q)[0])
	if head != "SELECT" && head != "WITH" {
		return errNotReadOnly
	}
	if writeKeywords.MatchString(q) {
		return errNotReadOnly
	}
	return nil
}

// RunReadOnlyQuery executes a checked query on the read-only pool and
// renders up to maxRows rows as JSON. Secret columns are masked.
func (a *Assistant) RunReadOnlyQuery(ctx context.Context, query string) (string, error) {
	if err := CheckReadOnly(query); err != nil {
		return "", err
	}
	rows, err := a.readDB.QueryContext(ctx, query)
	if err != nil {
		return "", err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return "", err
	}
	table := []map[string]interface{}{}
	for rows.Next() && len(table) < maxRows {
		values := make([]interface{}, len(columns))
		ptrs := make([]interface{}, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return "", err
		}
		entry := make(map[string]interface{}, len(columns))
		for i, col := range columns {
			switch v := values[i].(type) {
			case []byte:
				entry[col] = string(v)
			default:
				entry[col] = v
			}
			if hiddenColumns[strings.ToLower(col)] {
				entry[col] = "[hidden]"
			}
		}
		table = append(table, entry)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	data, err := json.Marshal(table)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func systemPrompt() string {
	return `You are the storefront back-office assistant for admins.
Access: MySQL database through run_readonly_sql. SELECT only. Be concise.
Money columns are integer cents; divide by 100 when reporting amounts.
Schema:
- users (id, customer_id, email, full_name, role [customer, admin], referred_by, wallet_balance, referral_balance, credits_balance, created_at)
- ledger_entries (id, user_id, ledger [wallet, referral, credits], direction [credit, debit], amount, balance_after, reason, ref_type, ref_id, actor_id, created_at)
- products (id, name, slug, kind [gift_card, game_topup, subscription], price, requires_player_id, active)
- orders (id, user_id, payment_method, payment_status, order_status, subtotal, discount_amount, total_amount, coupon_code, delivered_at, completed_without_delivery, created_at)
- order_items (id, order_id, product_id, product_name, quantity, unit_price)
- coupons (id, code, discount_type, discount_value, min_order_amount, usage_limit, used_count, active)
- coupon_redemptions (id, coupon_id, order_id, created_at)
- crypto_transactions (id, user_id, trade_type [buy, sell], chain, amount_usd, payment_method, payout_method, status, created_at)
- wallet_topups (id, user_id, amount, fee, total, payment_method, payment_status, created_at)
- minutes_transfers (id, user_id, phone_number, carrier, amount, fee, total, payment_status, transfer_status, created_at)
- withdrawals (id, user_id, amount, method [crypto, paypal], status [pending, processing, completed, rejected], created_at)`
}
