package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE job_definitions (
				id UUID PRIMARY KEY,
				external_id VARCHAR(255) NOT NULL UNIQUE,
				backend_id VARCHAR(255) NOT NULL,
				name VARCHAR(255) NOT NULL DEFAULT '',
				kind VARCHAR(50) NOT NULL CHECK (kind IN ('workflow', 'text-generation')),
				input_schema JSONB,
				owner_id VARCHAR(255),
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE TABLE execution_records (
				id UUID PRIMARY KEY,
				job_definition_id VARCHAR(255) NOT NULL,
				owner_id VARCHAR(255) NOT NULL,
				kind VARCHAR(50) NOT NULL,
				title VARCHAR(255) NOT NULL,
				inputs JSONB NOT NULL DEFAULT '{}',
				status VARCHAR(50) NOT NULL
					CHECK (status IN ('pending', 'running', 'completed', 'failed', 'stopped')),
				outputs JSONB,
				external_execution_id VARCHAR(255),
				task_id VARCHAR(255),
				total_steps INTEGER NOT NULL DEFAULT 0,
				total_tokens INTEGER NOT NULL DEFAULT 0,
				elapsed_time DOUBLE PRECISION NOT NULL DEFAULT 0,
				error_message TEXT,
				metadata JSONB,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_execution_records_owner_job
				ON execution_records(job_definition_id, owner_id, created_at DESC);
			CREATE INDEX idx_execution_records_status_created
				ON execution_records(status, created_at);
		`,
	}
}
