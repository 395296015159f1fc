package record

// Option adjusts an optional slot during construction.
type Option func(*Record)

// WithText fills the text slot on kinds where it is optional
// (no-permission); required text is a constructor argument.
func WithText(t Text) Option { return func(r *Record) { r.Text = &t } }

// WithTitle fills the title slot.
func WithTitle(t Text) Option { return func(r *Record) { r.Title = &t } }

// WithContentDescription fills the accessibility description.
func WithContentDescription(t Text) Option {
	return func(r *Record) { r.ContentDescription = &t }
}

// WithMonochromaticImage attaches an icon to a text or value kind.
func WithMonochromaticImage(im Image) Option { return func(r *Record) { r.Mono = &im } }

// WithSmallImage attaches a small image to a text or value kind.
func WithSmallImage(im SmallImage) Option { return func(r *Record) { r.Small = &im } }

// WithTapAction sets the tap target.
func WithTapAction(a TapAction) Option { return func(r *Record) { r.TapAction = &a } }

// WithValidTimeRange bounds when the record should be shown.
func WithValidTimeRange(tr TimeRange) Option { return func(r *Record) { r.ValidTimeRange = &tr } }

// WithDataSource records which provider produced the record.
func WithDataSource(source string) Option { return func(r *Record) { r.DataSource = source } }

// WithPersistencePolicy overrides the default caching policy.
func WithPersistencePolicy(p PersistencePolicy) Option { return func(r *Record) { r.Persistence = p } }

// WithDisplayPolicy overrides the default lock-screen policy.
func WithDisplayPolicy(p DisplayPolicy) Option { return func(r *Record) { r.Display = p } }

// WithPlaceholder attaches the skeleton record a NoData record renders
// while real data is pending.
func WithPlaceholder(p Record) Option { return func(r *Record) { r.Placeholder = &p } }

// WithTimeline attaches time-gated override entries.
func WithTimeline(entries ...TimelineEntry) Option {
	return func(r *Record) { r.Timeline = entries }
}

func build(kind Kind, opts []Option, fill func(*Record)) (Record, error) {
	r := Record{Kind: kind}
	if fill != nil {
		fill(&r)
	}
	for _, o := range opts {
		o(&r)
	}
	if err := r.Validate(); err != nil {
		return Record{}, err
	}
	return r, nil
}

// NewNoData builds the "nothing yet" record, optionally carrying a
// placeholder to render while waiting.
func NewNoData(opts ...Option) (Record, error) {
	return build(KindNoData, opts, nil)
}

// NewEmpty builds the "deliberately blank" record.
func NewEmpty() Record { return Record{Kind: KindEmpty} }

// NewNotConfigured builds the "slot not set up yet" record.
func NewNotConfigured() Record { return Record{Kind: KindNotConfigured} }

// NewShortText builds a record for the small text slot.
func NewShortText(text Text, opts ...Option) (Record, error) {
	return build(KindShortText, opts, func(r *Record) { r.Text = &text })
}

// NewLongText builds a record for the wide text slot.
func NewLongText(text Text, opts ...Option) (Record, error) {
	return build(KindLongText, opts, func(r *Record) { r.Text = &text })
}

// NewRangedValue builds a gauge record; value must land in [min, max]
// unless it is the placeholder sentinel.
func NewRangedValue(value Float, min, max float32, opts ...Option) (Record, error) {
	return build(KindRangedValue, opts, func(r *Record) {
		r.Value = &value
		r.Min = min
		r.Max = max
	})
}

// NewGoalProgress builds a progress-toward-target record; the value may
// overshoot the target.
func NewGoalProgress(value Float, target float32, opts ...Option) (Record, error) {
	return build(KindGoalProgress, opts, func(r *Record) {
		r.Value = &value
		r.TargetValue = target
	})
}

// NewWeightedElements builds a proportioned-breakdown record.
func NewWeightedElements(elements []Element, opts ...Option) (Record, error) {
	return build(KindWeightedElements, opts, func(r *Record) { r.Elements = elements })
}

// NewMonochromaticImage builds a tintable-icon record.
func NewMonochromaticImage(im Image, opts ...Option) (Record, error) {
	return build(KindMonochromaticImage, opts, func(r *Record) { r.Mono = &im })
}

// NewSmallImage builds a small photo or icon record.
func NewSmallImage(im SmallImage, opts ...Option) (Record, error) {
	return build(KindSmallImage, opts, func(r *Record) { r.Small = &im })
}

// NewPhotoImage builds a full-bleed photo record.
func NewPhotoImage(im Image, opts ...Option) (Record, error) {
	return build(KindPhotoImage, opts, func(r *Record) { r.Photo = &im })
}

// NewNoPermission builds the "provider needs a permission" record.
func NewNoPermission(opts ...Option) (Record, error) {
	return build(KindNoPermission, opts, nil)
}

// NewList builds a multi-entry record. Entries must be displayable,
// non-list, and fully literal.
func NewList(entries []Record, style ListStyle, opts ...Option) (Record, error) {
	return build(KindList, opts, func(r *Record) {
		r.Entries = entries
		r.ListStyle = style
	})
}

// NewProtoLayout builds a free-form layout record from the three
// layout blobs.
func NewProtoLayout(interactive, ambient, resources []byte, opts ...Option) (Record, error) {
	return build(KindProtoLayout, opts, func(r *Record) {
		r.LayoutInteractive = interactive
		r.LayoutAmbient = ambient
		r.LayoutResources = resources
	})
}
