package mcpserver

// AuthoringFormatContract describes the JSON authoring format for
// complication records that LLM consumers should follow when pushing
// records into slots.
const AuthoringFormatContract = `# Dagaz Complication Authoring Format

Every record pushed into a Dagaz slot MUST follow this JSON structure.

## Record

A record is a JSON object whose ` + "`" + `kind` + "`" + ` selects which other fields are
meaningful:

` + "```" + `json
{
  "kind": "short_text",
  "text": { "literal": "72" },
  "title": { "literal": "bpm" }
}
` + "```" + `

Kinds and their required fields:

| kind                  | required fields                         |
|-----------------------|-----------------------------------------|
| no_data               | (none; optional placeholder)            |
| empty                 | (none)                                  |
| not_configured        | (none)                                  |
| no_permission         | (none; optional text, title)            |
| short_text            | text                                    |
| long_text             | text                                    |
| ranged_value          | value, min, max                         |
| goal_progress         | value, target_value                     |
| weighted_elements     | elements (1..20 of {weight, color})     |
| monochromatic_image   | monochromatic_image {resource_id}       |
| small_image           | small_image {resource_id, style}        |
| photo_image           | photo_image {resource_id}               |
| list                  | entries (1..8 records), list_style      |
| proto_layout          | layout_interactive, layout_resources    |

Common optional fields on any kind: ` + "`" + `content_description` + "`" + `, ` + "`" + `tap_action` + "`" + `
(` + "`" + `{"uri": "..."}` + "`" + `), ` + "`" + `valid_time_range` + "`" + ` (` + "`" + `{"start", "end"}` + "`" + `, RFC 3339, either
side optional), ` + "`" + `data_source` + "`" + `, ` + "`" + `do_not_persist` + "`" + `, ` + "`" + `hide_when_locked` + "`" + `, and
` + "`" + `timeline` + "`" + ` (list of ` + "`" + `{"validity": {...}, "record": {...}}` + "`" + ` overrides).

## Expressed slots

` + "`" + `text` + "`" + `, ` + "`" + `title` + "`" + `, ` + "`" + `content_description` + "`" + ` and ` + "`" + `value` + "`" + ` are *expressed*: each
carries a ` + "`" + `literal` + "`" + `, a ` + "`" + `dynamic` + "`" + ` expression, or both. When both are
present the literal is the fallback shown until the expression first
resolves. A slot with only ` + "`" + `dynamic` + "`" + ` shows the record's placeholder (or
nothing) until resolution.

## Expressions

An expression is a tree of nodes discriminated by ` + "`" + `op` + "`" + `:

| op                     | fields              | meaning                          |
|------------------------|---------------------|----------------------------------|
| const                  | type, value         | literal (float, string, bool, int, instant) |
| state                  | key                 | host state store lookup          |
| sensor                 | key                 | platform sensor (health.heart_rate, health.daily_steps, device.battery_pct) |
| time                   | (none)              | current instant, ticking         |
| add, sub, mul, div     | lhs, rhs            | arithmetic (numbers)             |
| lt, le, gt, ge         | lhs, rhs            | comparison (numbers or instants) |
| eq, ne                 | lhs, rhs            | equality (same-kind values)      |
| and, or                | lhs, rhs            | boolean logic                    |
| not                    | x                   | boolean negation                 |
| cond                   | if, then, else      | conditional; branches same kind  |
| concat                 | parts               | string concatenation             |
| format_float           | x, digits           | number to string, fixed digits   |
| format_int             | x                   | integer to string                |
| format_instant         | x, layout           | instant to string (Go layout)    |
| duration_secs          | start, end          | whole seconds between instants   |

` + "`" + `const` + "`" + ` nodes carry the value in its natural JSON form: numbers for
float/int, strings for string and instant (RFC 3339), booleans for bool:

` + "```" + `json
{ "op": "const", "type": "float", "value": 0.5 }
{ "op": "const", "type": "instant", "value": "2026-01-01T00:00:00Z" }
` + "```" + `

## Rules

1. **Push the authoring JSON as a string** in the ` + "`" + `record` + "`" + ` argument of
   ` + "`" + `push_complication` + "`" + `. The server validates kind invariants and rejects
   malformed records.
2. **State keys are free-form** (e.g. ` + "`" + `battery` + "`" + `, ` + "`" + `weather.temp` + "`" + `); set them
   with ` + "`" + `set_state` + "`" + ` before or after pushing — expressions re-evaluate
   whenever a referenced key changes.
3. **A failed expression yields the no_data sentinel** for the whole
   record until its inputs become resolvable again; attach a
   ` + "`" + `placeholder` + "`" + ` record to control what is shown meanwhile.
4. **List entries must be expression-free** and must not nest further
   lists.
5. **Timeline override records** follow the same format as top-level
   records; an entry applies while the current time is inside its
   ` + "`" + `validity` + "`" + ` range.

## Example

A heart-rate complication that shows the live sensor value and falls
back to ` + "`" + `--` + "`" + ` until the first reading arrives:

` + "```" + `json
{
  "kind": "short_text",
  "text": {
    "literal": "--",
    "dynamic": {
      "op": "format_int",
      "x": { "op": "sensor", "key": "health.heart_rate" }
    }
  },
  "title": { "literal": "bpm" },
  "data_source": "health-app"
}
` + "```" + `
`
