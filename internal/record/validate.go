package record

import (
	"fmt"
	"math"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// slotSet is a bitmask over the content slots a kind may carry.
// Metadata (content description, valid time range, data source,
// policies, timeline) is legal on every kind and not tracked here.
type slotSet uint16

const (
	slotText slotSet = 1 << iota
	slotTitle
	slotValue
	slotElements
	slotMono
	slotSmall
	slotPhoto
	slotTap
	slotPlaceholder
	slotEntries
	slotLayouts
)

var slotNames = []struct {
	bit  slotSet
	name string
}{
	{slotText, "text"},
	{slotTitle, "title"},
	{slotValue, "value"},
	{slotElements, "elements"},
	{slotMono, "monochromatic image"},
	{slotSmall, "small image"},
	{slotPhoto, "photo image"},
	{slotTap, "tap action"},
	{slotPlaceholder, "placeholder"},
	{slotEntries, "list entries"},
	{slotLayouts, "layouts"},
}

func (s slotSet) String() string {
	var parts []string
	for _, sn := range slotNames {
		if s&sn.bit != 0 {
			parts = append(parts, sn.name)
		}
	}
	if len(parts) == 0 {
		return "nothing"
	}
	return strings.Join(parts, ", ")
}

type kindRules struct {
	allowed  slotSet
	required slotSet
	bounded  bool // Min/Max apply
	goal     bool // TargetValue applies
}

var rulesByKind = map[Kind]kindRules{
	KindNoData:        {allowed: slotPlaceholder},
	KindEmpty:         {},
	KindNotConfigured: {},
	KindShortText: {
		allowed:  slotText | slotTitle | slotMono | slotSmall | slotTap,
		required: slotText,
	},
	KindLongText: {
		allowed:  slotText | slotTitle | slotMono | slotSmall | slotTap,
		required: slotText,
	},
	KindRangedValue: {
		allowed:  slotValue | slotText | slotTitle | slotMono | slotSmall | slotTap,
		required: slotValue,
		bounded:  true,
	},
	KindGoalProgress: {
		allowed:  slotValue | slotText | slotTitle | slotMono | slotSmall | slotTap,
		required: slotValue,
		goal:     true,
	},
	KindWeightedElements: {
		allowed:  slotElements | slotText | slotTitle | slotMono | slotTap,
		required: slotElements,
	},
	KindMonochromaticImage: {allowed: slotMono | slotTap, required: slotMono},
	KindSmallImage:         {allowed: slotSmall | slotTap, required: slotSmall},
	KindPhotoImage:         {allowed: slotPhoto | slotTap, required: slotPhoto},
	KindNoPermission:       {allowed: slotText | slotTitle | slotMono},
	KindList:               {allowed: slotEntries | slotTap, required: slotEntries},
	KindProtoLayout:        {allowed: slotLayouts, required: slotLayouts},
}

func (r Record) slots() slotSet {
	var s slotSet
	if r.Text != nil {
		s |= slotText
	}
	if r.Title != nil {
		s |= slotTitle
	}
	if r.Value != nil {
		s |= slotValue
	}
	if len(r.Elements) > 0 {
		s |= slotElements
	}
	if r.Mono != nil {
		s |= slotMono
	}
	if r.Small != nil {
		s |= slotSmall
	}
	if r.Photo != nil {
		s |= slotPhoto
	}
	if r.TapAction != nil {
		s |= slotTap
	}
	if r.Placeholder != nil {
		s |= slotPlaceholder
	}
	if len(r.Entries) > 0 {
		s |= slotEntries
	}
	if len(r.LayoutInteractive) > 0 || len(r.LayoutAmbient) > 0 || len(r.LayoutResources) > 0 {
		s |= slotLayouts
	}
	return s
}

func finite32(f float32) bool {
	return !math.IsNaN(float64(f)) && !math.IsInf(float64(f), 0)
}

// Validate checks the record against its kind's rules: slot presence,
// slot contents, numeric ranges, and nesting constraints.
func (r Record) Validate() error {
	rules, known := rulesByKind[r.Kind]
	if !known {
		return fmt.Errorf("record: unknown kind %d", uint8(r.Kind))
	}

	present := r.slots()
	if missing := rules.required &^ present; missing != 0 {
		return fmt.Errorf("record: %s requires %s", r.Kind, missing)
	}
	if extra := present &^ rules.allowed; extra != 0 {
		return fmt.Errorf("record: %s does not carry %s", r.Kind, extra)
	}

	// Slot contents. Pointer fields and slice elements implementing
	// Validatable are checked by ozzo automatically.
	if err := validation.ValidateStruct(&r,
		validation.Field(&r.Text),
		validation.Field(&r.Title),
		validation.Field(&r.ContentDescription),
		validation.Field(&r.Value),
		validation.Field(&r.Elements),
		validation.Field(&r.Mono),
		validation.Field(&r.Small),
		validation.Field(&r.Photo),
		validation.Field(&r.TapAction),
		validation.Field(&r.ValidTimeRange),
	); err != nil {
		return fmt.Errorf("record: %w", err)
	}

	if err := r.validateNumbers(rules); err != nil {
		return err
	}
	if err := r.validateNesting(); err != nil {
		return err
	}
	return nil
}

func (r Record) validateNumbers(rules kindRules) error {
	if !rules.bounded && (r.Min != 0 || r.Max != 0) {
		return fmt.Errorf("record: %s does not carry min/max bounds", r.Kind)
	}
	if !rules.goal && r.TargetValue != 0 {
		return fmt.Errorf("record: %s does not carry a target value", r.Kind)
	}

	literal := func() (float32, bool) {
		if r.Value == nil || r.Value.Literal == nil {
			return 0, false
		}
		return *r.Value.Literal, true
	}

	if rules.bounded {
		if !finite32(r.Min) || !finite32(r.Max) {
			return fmt.Errorf("record: bounds are not finite")
		}
		if r.Min > r.Max {
			return fmt.Errorf("record: min %v greater than max %v", r.Min, r.Max)
		}
		if v, ok := literal(); ok && v != PlaceholderFloat && (v < r.Min || v > r.Max) {
			return fmt.Errorf("record: value %v outside [%v, %v]", v, r.Min, r.Max)
		}
	}
	if rules.goal {
		if !finite32(r.TargetValue) || r.TargetValue < 0 {
			return fmt.Errorf("record: target value must be finite and non-negative")
		}
		if v, ok := literal(); ok && v != PlaceholderFloat && v < 0 {
			return fmt.Errorf("record: goal progress value must be non-negative")
		}
	}

	if len(r.Elements) > MaxWeightedElements {
		return fmt.Errorf("record: %d elements exceeds cap of %d", len(r.Elements), MaxWeightedElements)
	}
	return nil
}

func (r Record) validateNesting() error {
	if r.Placeholder != nil {
		p := r.Placeholder
		if !p.Kind.Displayable() {
			return fmt.Errorf("record: placeholder kind %s is not displayable", p.Kind)
		}
		if len(p.Timeline) > 0 {
			return fmt.Errorf("record: placeholder cannot carry a timeline")
		}
		if err := p.Validate(); err != nil {
			return fmt.Errorf("record: placeholder: %w", err)
		}
	}

	if len(r.Entries) > 0 {
		if len(r.Entries) > MaxListEntries {
			return fmt.Errorf("record: %d list entries exceeds cap of %d", len(r.Entries), MaxListEntries)
		}
		if r.ListStyle != ListRow && r.ListStyle != ListColumn {
			return fmt.Errorf("record: list needs a row or column style")
		}
		for i, e := range r.Entries {
			if !e.Kind.Displayable() || e.Kind == KindList {
				return fmt.Errorf("record: list entry %d has kind %s", i, e.Kind)
			}
			if e.HasExpressions() {
				return fmt.Errorf("record: list entry %d carries dynamic expressions", i)
			}
			if err := e.Validate(); err != nil {
				return fmt.Errorf("record: list entry %d: %w", i, err)
			}
		}
	}

	for i, e := range r.Timeline {
		if err := e.Validity.Validate(); err != nil {
			return fmt.Errorf("record: timeline entry %d: %w", i, err)
		}
		if len(e.Record.Timeline) > 0 {
			return fmt.Errorf("record: timeline entry %d nests a timeline", i)
		}
		if err := e.Record.Validate(); err != nil {
			return fmt.Errorf("record: timeline entry %d: %w", i, err)
		}
	}
	return nil
}
