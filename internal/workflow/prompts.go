package workflow

const researchPrompt = `You are a content strategist preparing a Chinese social-media note.

Topic: %s

Analyze the topic using the search snippets below. Give concise Chinese findings: the three most useful angles, concrete facts or numbers worth citing, and what readers usually get wrong.

Snippets:
%s

Respond with plain text notes only.`

const writePrompt = `You are writing a Chinese social-media note (小红书 style) about: %s

Base the note on this research:
%s

Write a practical, concise draft with clear sections and actionable steps. Respond with ONLY this markdown structure:

# 标题
1. <title option>
2. <title option>
3. <title option>

# 正文
<body with short sections and steps>

# 标签
#<tag> #<tag> #<tag> #<tag> #<tag> #<tag> #<tag> #<tag> #<tag> #<tag>

Exactly 3 titles and exactly 10 tags.`

const editPrompt = `You are the final editor of a Chinese social-media note about: %s

Polish the draft below: sharpen the 3 titles, tighten the body, and make the 10 tags specific and searchable. Keep the facts.

Draft:
%s

Respond with ONLY the edited note in the same markdown structure:

# 标题
1. <title>
2. <title>
3. <title>

# 正文
<body>

# 标签
#<tag> #<tag> #<tag> #<tag> #<tag> #<tag> #<tag> #<tag> #<tag> #<tag>

Exactly 3 titles and exactly 10 tags.`
