package service

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/qs3c/credit_ledger_server/config"
	"github.com/qs3c/credit_ledger_server/internal/model/dto"
	"github.com/qs3c/credit_ledger_server/internal/pkg/credit"
	"github.com/qs3c/credit_ledger_server/internal/pkg/ident"
)

var (
	ErrUnknownPack = errors.New("unknown pack or unsupported currency")
	ErrUnknownTool = errors.New("unknown tool")
)

// Pack 服务端积分包，金额为含税最小货币单位
type Pack struct {
	ID       ident.PackID
	Credits  credit.Amount
	Amount   int64
	Currency string
}

// Pricing 积分包价格表，启动时由配置计算，客户端金额只作参考
type Pricing struct {
	packs map[ident.PackID]Pack
	order []ident.PackID
}

// NewPricing amount = round(price_base × (1 + tax_rate) × 100)
func NewPricing(packs []config.PackConfig) (*Pricing, error) {
	p := &Pricing{packs: make(map[ident.PackID]Pack, len(packs))}
	hundred := decimal.NewFromInt(100)

	for _, pc := range packs {
		id, err := ident.ParsePackID(pc.ID)
		if err != nil {
			return nil, fmt.Errorf("pack %q: %w", pc.ID, err)
		}
		credits, err := credit.Parse(pc.Credits)
		if err != nil || credits <= 0 {
			return nil, fmt.Errorf("pack %q: invalid credits %q", pc.ID, pc.Credits)
		}
		base, err := decimal.NewFromString(pc.PriceBase)
		if err != nil || !base.IsPositive() {
			return nil, fmt.Errorf("pack %q: invalid price_base %q", pc.ID, pc.PriceBase)
		}
		tax := decimal.Zero
		if pc.TaxRate != "" {
			tax, err = decimal.NewFromString(pc.TaxRate)
			if err != nil || tax.IsNegative() {
				return nil, fmt.Errorf("pack %q: invalid tax_rate %q", pc.ID, pc.TaxRate)
			}
		}
		currency := strings.ToUpper(strings.TrimSpace(pc.Currency))
		if len(currency) != 3 {
			return nil, fmt.Errorf("pack %q: invalid currency %q", pc.ID, pc.Currency)
		}
		if _, dup := p.packs[id]; dup {
			return nil, fmt.Errorf("pack %q: duplicated", pc.ID)
		}

		amount := base.Mul(decimal.NewFromInt(1).Add(tax)).Mul(hundred).Round(0).IntPart()
		p.packs[id] = Pack{ID: id, Credits: credits, Amount: amount, Currency: currency}
		p.order = append(p.order, id)
	}
	return p, nil
}

// Resolve 按包 ID 与币种查价，币种为空时使用包的默认币种
func (p *Pricing) Resolve(id ident.PackID, currency string) (Pack, error) {
	pack, ok := p.packs[id]
	if !ok {
		return Pack{}, ErrUnknownPack
	}
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency != "" && currency != pack.Currency {
		return Pack{}, ErrUnknownPack
	}
	return pack, nil
}

// List 按配置顺序列出全部积分包
func (p *Pricing) List() dto.PackListResponse {
	resp := dto.PackListResponse{Packs: make([]dto.PackInfo, 0, len(p.order))}
	for _, id := range p.order {
		pack := p.packs[id]
		resp.Packs = append(resp.Packs, dto.PackInfo{
			ID:       pack.ID.String(),
			Credits:  pack.Credits,
			Amount:   pack.Amount,
			Currency: pack.Currency,
		})
	}
	return resp
}

// ToolPricing 计费工具单价
type ToolPricing struct {
	Name        string
	Upstream    string
	CostPerPage credit.Amount
	MinCost     credit.Amount
}

// Cost max(min_cost, pages × cost_per_page)
func (t ToolPricing) Cost(pages int) credit.Amount {
	if pages < 1 {
		pages = 1
	}
	cost := t.CostPerPage * credit.Amount(pages)
	if cost < t.MinCost {
		return t.MinCost
	}
	return cost
}

// ParseTools 解析工具配置
func ParseTools(tools []config.ToolConfig) (map[string]ToolPricing, error) {
	out := make(map[string]ToolPricing, len(tools))
	for _, tc := range tools {
		name := strings.TrimSpace(tc.Name)
		if name == "" {
			return nil, errors.New("tool name is required")
		}
		perPage, err := credit.Parse(tc.CostPerPage)
		if err != nil {
			return nil, fmt.Errorf("tool %q: cost_per_page: %w", name, err)
		}
		minCost := credit.Amount(0)
		if tc.MinCost != "" {
			if minCost, err = credit.Parse(tc.MinCost); err != nil {
				return nil, fmt.Errorf("tool %q: min_cost: %w", name, err)
			}
		}
		if perPage == 0 && minCost == 0 {
			return nil, fmt.Errorf("tool %q: cost must be positive", name)
		}
		out[name] = ToolPricing{Name: name, Upstream: tc.Upstream, CostPerPage: perPage, MinCost: minCost}
	}
	return out, nil
}

// ToolNames 已配置的工具名（排序）
func ToolNames(tools map[string]ToolPricing) []string {
	names := make([]string, 0, len(tools))
	for name := range tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
