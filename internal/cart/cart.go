// Package cart holds the in-memory selection a customer builds before checkout.
// Prices are copied from the menu when a line is added and never looked up again.
package cart

import (
	"github.com/google/uuid"

	"github.com/hirohirohiro3/marche-app-sub000/pkg/types"
)

// MenuItem is the menu snapshot taken at add time.
type MenuItem struct {
	ID             string
	Name           string
	Price          int64
	OptionGroupIDs []string
}

// OptionChoice is one chosen option within a group.
type OptionChoice struct {
	Name          string
	PriceModifier int64
}

// SelectedOptionGroup holds the choices made for one option group. Multi-select
// groups carry several choices.
type SelectedOptionGroup struct {
	GroupID   string
	GroupName string
	Choices   []OptionChoice
}

// Item is one cart line.
type Item struct {
	CartItemID           uuid.UUID
	MenuItem             MenuItem
	Quantity             int64
	SelectedOptions      []SelectedOptionGroup
	ItemPriceWithOptions int64
}

// HasOptions reports whether at least one choice was made.
func (i Item) HasOptions() bool {
	return hasChoices(i.SelectedOptions)
}

// Cart is single-writer state; callers must not share it across goroutines.
type Cart struct {
	items []Item
	newID func() uuid.UUID
}

func New() *Cart {
	return &Cart{newID: uuid.New}
}

// AddItem adds one unit of menuItem. Lines without options merge with an
// existing option-less line for the same item; any choice forces a new line.
func (c *Cart) AddItem(menuItem MenuItem, options ...SelectedOptionGroup) Item {
	return c.AddItemQuantity(menuItem, 1, options...)
}

// AddItemQuantity is AddItem for quantity units. Non-positive quantities are ignored.
func (c *Cart) AddItemQuantity(menuItem MenuItem, quantity int64, options ...SelectedOptionGroup) Item {
	if quantity <= 0 {
		return Item{}
	}
	options = normalize(options)

	if len(options) == 0 {
		for idx := range c.items {
			line := &c.items[idx]
			if line.MenuItem.ID == menuItem.ID && !line.HasOptions() {
				line.Quantity += quantity
				return *line
			}
		}
	}

	line := Item{
		CartItemID:           c.newID(),
		MenuItem:             copyMenuItem(menuItem),
		Quantity:             quantity,
		SelectedOptions:      options,
		ItemPriceWithOptions: priceWithOptions(menuItem.Price, options),
	}
	c.items = append(c.items, line)
	return line
}

// UpdateQuantity sets the quantity of a line; zero or less removes it.
// It reports whether the line existed.
func (c *Cart) UpdateQuantity(cartItemID uuid.UUID, quantity int64) bool {
	for idx := range c.items {
		if c.items[idx].CartItemID != cartItemID {
			continue
		}
		if quantity <= 0 {
			c.items = append(c.items[:idx], c.items[idx+1:]...)
			return true
		}
		c.items[idx].Quantity = quantity
		return true
	}
	return false
}

// RemoveItem deletes the line if present.
func (c *Cart) RemoveItem(cartItemID uuid.UUID) {
	for idx := range c.items {
		if c.items[idx].CartItemID == cartItemID {
			c.items = append(c.items[:idx], c.items[idx+1:]...)
			return
		}
	}
}

func (c *Cart) Clear() {
	c.items = nil
}

func (c *Cart) IsEmpty() bool {
	return len(c.items) == 0
}

// Items returns a copy of the lines in insertion order.
func (c *Cart) Items() []Item {
	out := make([]Item, len(c.items))
	copy(out, c.items)
	return out
}

func (c *Cart) TotalPrice() int64 {
	var total int64
	for _, line := range c.items {
		total += line.ItemPriceWithOptions * line.Quantity
	}
	return total
}

func (c *Cart) TotalItems() int64 {
	var total int64
	for _, line := range c.items {
		total += line.Quantity
	}
	return total
}

// LineItems converts the cart into order line items. Options are flattened to
// one entry per choice and omitted when nothing was chosen.
func (c *Cart) LineItems() types.OrderLineItems {
	out := make(types.OrderLineItems, 0, len(c.items))
	for _, line := range c.items {
		item := types.OrderLineItem{
			Name:      line.MenuItem.Name,
			Quantity:  line.Quantity,
			UnitPrice: line.ItemPriceWithOptions,
		}
		for _, group := range line.SelectedOptions {
			for _, choice := range group.Choices {
				item.SelectedOptions = append(item.SelectedOptions, types.SelectedOption{
					GroupName:     group.GroupName,
					ChoiceName:    choice.Name,
					PriceModifier: choice.PriceModifier,
				})
			}
		}
		out = append(out, item)
	}
	return out
}

func priceWithOptions(base int64, options []SelectedOptionGroup) int64 {
	price := base
	for _, group := range options {
		for _, choice := range group.Choices {
			price += choice.PriceModifier
		}
	}
	return price
}

func normalize(options []SelectedOptionGroup) []SelectedOptionGroup {
	var out []SelectedOptionGroup
	for _, group := range options {
		if len(group.Choices) == 0 {
			continue
		}
		choices := make([]OptionChoice, len(group.Choices))
		copy(choices, group.Choices)
		group.Choices = choices
		out = append(out, group)
	}
	return out
}

func hasChoices(options []SelectedOptionGroup) bool {
	for _, group := range options {
		if len(group.Choices) > 0 {
			return true
		}
	}
	return false
}

func copyMenuItem(item MenuItem) MenuItem {
	if item.OptionGroupIDs != nil {
		ids := make([]string, len(item.OptionGroupIDs))
		copy(ids, item.OptionGroupIDs)
		item.OptionGroupIDs = ids
	}
	return item
}
