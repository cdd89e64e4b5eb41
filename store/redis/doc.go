// Package redis provides a Redis-backed store for participant data, session
// state, session tags, history channels and task statuses.
//
// Keys are namespaced by a prefix (default "chatpipe:"):
//
//	{prefix}participant:{participant_id}     JSON object
//	{prefix}session:{session_id}:state       JSON object
//	{prefix}session:{session_id}:tags        set
//	{prefix}history:{session_id}:{channel}   JSON array of messages
//	{prefix}task:{task_id}                   JSON task status
//
// A TTL, when set, applies to every key except participant data, which
// outlives sessions.
//
//	s := redis.NewRedisStore(redis.RedisOptions{
//		Addr: "localhost:6379",
//		TTL:  24 * time.Hour,
//	})
//	exec := engine.New(engine.WithStore(s))
package redis
