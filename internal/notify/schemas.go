package notify

const notificationDispatchSchema = `{
  "type": "object",
  "title": "NotificationDispatch",
  "properties": {
    "event_id": {"type": "integer"},
    "activity_id": {"type": "string"},
    "recipient_id": {"type": "string"},
    "kind": {"type": "string", "enum": ["started", "completed"]},
    "title": {"type": "string"},
    "message": {"type": "string"},
    "action_ref": {"type": "string"},
    "enqueued_at": {"type": "string", "format": "date-time"}
  },
  "required": ["event_id", "activity_id", "recipient_id", "kind", "title", "message", "enqueued_at"],
  "additionalProperties": false
}`
